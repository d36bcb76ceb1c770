// Package mbs implements the Module Build Service client used to expand
// module references into concrete NSVCs during resolution (spec.md §4.2).
package mbs

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

// NSVC is a resolved module name:stream:version:context reference.
type NSVC struct {
	Name    string
	Stream  string
	Version string
	Context string
}

// String renders the colon-form NSVC ODCS always emits. References are read
// in colon form only; a hyphen-form reference is not rewritten.
func (n NSVC) String() string {
	return strings.Join([]string{n.Name, n.Stream, n.Version, n.Context}, ":")
}

// Module is a resolved module build as MBS reports it: its NSVC plus the
// other modules it declares a build or runtime dependency on.
type Module struct {
	NSVC         NSVC
	Requires     []NSVC
	BuildRequires []NSVC
}

// Client is the subset of the MBS query API ODCS depends on.
type Client interface {
	// LatestReady returns the latest "ready" module build matching ref,
	// a name:stream[:version[:context]] reference (a partial reference
	// matches the newest version/context).
	LatestReady(ctx context.Context, ref string) (*Module, error)
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

type moduleBuildResponse struct {
	Items []struct {
		Name    string   `json:"name"`
		Stream  string   `json:"stream"`
		Version string   `json:"version"`
		Context string   `json:"context"`
		State   string   `json:"state_name"`
		ModuleMetadata struct {
			Requires      map[string]string `json:"requires"`
			BuildRequires map[string]string `json:"buildrequires"`
		} `json:"modulemd_deps"`
	} `json:"items"`
}

func (c *HTTPClient) LatestReady(ctx context.Context, ref string) (*Module, error) {
	parts := strings.Split(ref, ":")
	name := parts[0]

	url := fmt.Sprintf("%s/module-build-service/1/module-builds/?name=%s&order_desc_by=version", c.baseURL, name)

	var resp moduleBuildResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building mbs request: %w", err))
		}

		r, err := c.http.Do(req)
		if err != nil {
			return odcserrors.Wrap(odcserrors.Transient, err, "querying mbs for %q", ref)
		}
		defer func() { _ = r.Body.Close() }()

		if r.StatusCode >= 500 {
			return odcserrors.New(odcserrors.Transient, "mbs query for %q: HTTP %d", ref, r.StatusCode)
		}
		if r.StatusCode != http.StatusOK {
			return backoff.Permanent(odcserrors.New(odcserrors.ResolutionError, "mbs query for %q: HTTP %d", ref, r.StatusCode))
		}
		if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding mbs response for %q: %w", ref, err))
		}
		return nil
	}

	if err := backoff.Retry(operation, c.backoff()); err != nil {
		return nil, err
	}

	for _, item := range resp.Items {
		if item.State != "ready" {
			continue
		}
		if !matchesRef(parts, item.Stream, item.Version, item.Context) {
			continue
		}
		return &Module{
			NSVC: NSVC{Name: item.Name, Stream: item.Stream, Version: item.Version, Context: item.Context},
			Requires:      depsToNSVC(item.ModuleMetadata.Requires),
			BuildRequires: depsToNSVC(item.ModuleMetadata.BuildRequires),
		}, nil
	}
	return nil, odcserrors.New(odcserrors.ResolutionError, "no ready module build found for %q", ref)
}

// matchesRef reports whether a candidate module's stream/version/context
// matches the caller-supplied partial reference (missing fields are
// wildcards, matched against the newest available since the query already
// ordered by version descending).
func matchesRef(refParts []string, stream, version, context string) bool {
	if len(refParts) > 1 && refParts[1] != stream {
		return false
	}
	if len(refParts) > 2 && refParts[2] != version {
		return false
	}
	if len(refParts) > 3 && refParts[3] != context {
		return false
	}
	return true
}

func depsToNSVC(deps map[string]string) []NSVC {
	var out []NSVC
	for name, stream := range deps {
		out = append(out, NSVC{Name: name, Stream: stream})
	}
	return out
}
