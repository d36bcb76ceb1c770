// Package mbstest provides a scriptable fake mbs.Client for resolver unit
// tests.
package mbstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/release-engineering/odcs/internal/mbs"
)

// Fake is an in-memory mbs.Client keyed by "name:stream" (or bare "name",
// matched against whatever was registered for it).
type Fake struct {
	mu      sync.Mutex
	modules map[string]*mbs.Module
}

func New() *Fake {
	return &Fake{modules: make(map[string]*mbs.Module)}
}

// Register makes ref resolve to m. ref should be the most specific form a
// test expects to query with, e.g. "platform:f26" or just "platform".
func (f *Fake) Register(ref string, m *mbs.Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modules[ref] = m
}

func (f *Fake) LatestReady(_ context.Context, ref string) (*mbs.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if m, ok := f.modules[ref]; ok {
		return m, nil
	}
	name := strings.Split(ref, ":")[0]
	if m, ok := f.modules[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("mbstest: no module registered for %q", ref)
}
