package resolver

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/odcserrors"
)

// repomd is the subset of repodata/repomd.xml this strategy cares about.
type repomd struct {
	XMLName  xml.Name `xml:"repomd"`
	Revision int64    `xml:"revision"`
}

// repoStrategy resolves a repo compose's koji_event to the opaque monotone
// revision embedded in its repodata/repomd.xml (spec.md §4.2).
type repoStrategy struct {
	httpClient *http.Client
}

func (s *repoStrategy) Resolve(ctx context.Context, c *compose.Compose) error {
	data, err := s.fetchRepomd(ctx, c.Source)
	if err != nil {
		return fmt.Errorf("resolving repo revision for %q: %w", c.Source, err)
	}

	var md repomd
	if err := xml.Unmarshal(data, &md); err != nil {
		return odcserrors.Wrap(odcserrors.ResolutionError, err, "parsing repomd.xml for %q", c.Source)
	}

	event := md.Revision
	c.KojiEvent = &event
	return nil
}

func (s *repoStrategy) fetchRepomd(ctx context.Context, source string) ([]byte, error) {
	repomdPath := joinRepoPath(source, "repodata", "repomd.xml")

	if u, err := url.Parse(repomdPath); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		client := s.httpClient
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, repomdPath, nil)
		if err != nil {
			return nil, backoffPermanentish(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, odcserrors.Wrap(odcserrors.Transient, err, "fetching %q", repomdPath)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 500 {
			return nil, odcserrors.New(odcserrors.Transient, "fetching %q: HTTP %d", repomdPath, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, odcserrors.New(odcserrors.ResolutionError, "fetching %q: HTTP %d", repomdPath, resp.StatusCode)
		}
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, rerr := resp.Body.Read(chunk)
			buf = append(buf, chunk[:n]...)
			if rerr != nil {
				break
			}
		}
		return buf, nil
	}

	data, err := os.ReadFile(repomdPath)
	if err != nil {
		return nil, odcserrors.Wrap(odcserrors.ResolutionError, err, "reading %q", repomdPath)
	}
	return data, nil
}

func joinRepoPath(base string, parts ...string) string {
	trimmed := strings.TrimSuffix(base, "/")
	return trimmed + "/" + filepath.Join(parts...)
}

func backoffPermanentish(err error) error {
	return odcserrors.Wrap(odcserrors.ResolutionError, err, "building request")
}
