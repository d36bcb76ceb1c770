// Package pulptest provides a scriptable fake pulp.Client for worker unit
// tests.
package pulptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/release-engineering/odcs/internal/pulp"
)

type Fake struct {
	mu    sync.Mutex
	repos map[string][]pulp.Repository
}

func New() *Fake {
	return &Fake{repos: make(map[string][]pulp.Repository)}
}

func (f *Fake) Register(contentSet string, repos []pulp.Repository) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[contentSet] = repos
}

func (f *Fake) ReposForContentSet(_ context.Context, contentSet string, includeUnpublished bool) ([]pulp.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repos, ok := f.repos[contentSet]
	if !ok {
		return nil, fmt.Errorf("pulptest: content-set %q not registered", contentSet)
	}
	if includeUnpublished {
		return repos, nil
	}
	var out []pulp.Repository
	for _, r := range repos {
		if r.Published {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pulptest: content-set %q has no published repos", contentSet)
	}
	return out, nil
}
