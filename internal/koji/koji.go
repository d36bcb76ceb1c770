// Package koji implements the Koji build-system client ODCS uses to pin tag
// snapshots (spec.md §4.2 koji_tag resolution) and to check inheritance
// freshness for reuse (spec.md §4.3). Grounded on the retry/HTTP-call shape
// of the teacher's feature.HTTPResolver, generalized from a one-shot
// tarball GET to a small JSON-RPC-style client with cenkalti/backoff retry.
package koji

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/release-engineering/odcs/internal/odcserrors"
)

// Client is the subset of the Koji XML-RPC/JSON-RPC hub API ODCS depends on.
type Client interface {
	// CurrentEvent returns the hub's current event id, used to pin a
	// koji_tag compose's snapshot at resolution time.
	CurrentEvent(ctx context.Context) (int64, error)

	// TagChangedSince reports whether tag (or anything it inherits from)
	// has changed since sinceEvent — the reuse freshness check in
	// spec.md §4.3.
	TagChangedSince(ctx context.Context, tag string, sinceEvent int64) (bool, error)
}

// HTTPClient is the production Client, talking JSON-RPC to a Koji hub.
type HTTPClient struct {
	hubURL string
	http   *http.Client
	backoff func() backoff.BackOff
}

// NewHTTPClient creates an HTTPClient against hubURL (e.g.
// "https://koji.example.com/kojihub").
func NewHTTPClient(hubURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		hubURL: hubURL,
		http:   httpClient,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	operation := func() error {
		body, err := json.Marshal(rpcRequest{Method: method, Params: params})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshaling koji request: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hubURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building koji request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return odcserrors.Wrap(odcserrors.Transient, err, "calling koji %s", method)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return odcserrors.New(odcserrors.Transient, "koji %s: HTTP %d", method, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(odcserrors.New(odcserrors.ResolutionError, "koji %s: HTTP %d", method, resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding koji %s response: %w", method, err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, c.backoff())
}

func (c *HTTPClient) CurrentEvent(ctx context.Context) (int64, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, "getLastEvent", nil, &result); err != nil {
		return 0, fmt.Errorf("fetching current koji event: %w", err)
	}
	return result.ID, nil
}

func (c *HTTPClient) TagChangedSince(ctx context.Context, tag string, sinceEvent int64) (bool, error) {
	var result struct {
		Changed bool `json:"changed"`
	}
	if err := c.call(ctx, "tagChangedSinceEvent", []any{tag, sinceEvent}, &result); err != nil {
		return false, fmt.Errorf("checking inheritance freshness for tag %q: %w", tag, err)
	}
	return result.Changed, nil
}
