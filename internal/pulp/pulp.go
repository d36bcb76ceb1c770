// Package pulp implements the Pulp content-delivery client the Worker uses
// to back pulp-source composes (spec.md §4.6 step 2): translating
// content-sets into concrete, possibly arch-merged repository URLs.
package pulp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/release-engineering/odcs/internal/odcserrors"
)

// Repository is one Pulp-backed repository resolved from a content-set.
type Repository struct {
	ContentSet string
	Arch       string
	URL        string
	Sigkeys    []string
	Published  bool
}

// Client is the subset of the Pulp repository-query API ODCS depends on.
type Client interface {
	// ReposForContentSet returns every arch variant of a content-set.
	ReposForContentSet(ctx context.Context, contentSet string, includeUnpublished bool) ([]Repository, error)
}

// HTTPClient is the production Client.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	backoff func() backoff.BackOff
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

type repoSearchResponse struct {
	Repositories []struct {
		ContentSet string   `json:"content_set"`
		Arch       string   `json:"arch"`
		URL        string   `json:"url"`
		Sigkeys    []string `json:"signatures"`
		Published  bool     `json:"published"`
	} `json:"repositories"`
}

func (c *HTTPClient) ReposForContentSet(ctx context.Context, contentSet string, includeUnpublished bool) ([]Repository, error) {
	url := fmt.Sprintf("%s/pulp/api/v3/repositories/?content_set=%s&include_unpublished=%t",
		c.baseURL, contentSet, includeUnpublished)

	var resp repoSearchResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building pulp request: %w", err))
		}

		r, err := c.http.Do(req)
		if err != nil {
			return odcserrors.Wrap(odcserrors.Transient, err, "querying pulp for content-set %q", contentSet)
		}
		defer func() { _ = r.Body.Close() }()

		if r.StatusCode >= 500 {
			return odcserrors.New(odcserrors.Transient, "pulp query for %q: HTTP %d", contentSet, r.StatusCode)
		}
		if r.StatusCode != http.StatusOK {
			return backoff.Permanent(odcserrors.New(odcserrors.ResolutionError, "pulp query for %q: HTTP %d", contentSet, r.StatusCode))
		}
		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding pulp response for %q: %w", contentSet, err))
		}
		return nil
	}

	if err := backoff.Retry(operation, c.backoff()); err != nil {
		return nil, err
	}

	if len(resp.Repositories) == 0 {
		return nil, odcserrors.New(odcserrors.ValidationFailure, "content-set %q not found in pulp", contentSet)
	}

	repos := make([]Repository, 0, len(resp.Repositories))
	for _, r := range resp.Repositories {
		if !includeUnpublished && !r.Published {
			continue
		}
		repos = append(repos, Repository{
			ContentSet: r.ContentSet,
			Arch:       r.Arch,
			URL:        r.URL,
			Sigkeys:    r.Sigkeys,
			Published:  r.Published,
		})
	}
	if len(repos) == 0 {
		return nil, odcserrors.New(odcserrors.ValidationFailure, "content-set %q has no published repositories", contentSet)
	}
	return repos, nil
}
