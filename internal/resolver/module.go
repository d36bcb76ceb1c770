package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/mbs"
	"github.com/release-engineering/odcs/internal/odcserrors"
)

// moduleStrategy expands each whitespace-separated module reference in
// source into a concrete NSVC, optionally following build/runtime
// dependencies, resolves "-devel" counterparts, and rewrites source as the
// lexicographically sorted, space-joined NSVC list (spec.md §4.2).
type moduleStrategy struct {
	mbs mbs.Client
}

func (s *moduleStrategy) Resolve(ctx context.Context, c *compose.Compose) error {
	refs := strings.Fields(c.Source)
	if len(refs) == 0 {
		return odcserrors.New(odcserrors.ResolutionError, "module compose has no module references")
	}

	expanded, err := s.expand(ctx, refs, c.Flags.Has(compose.FlagNoDeps))
	if err != nil {
		return err
	}

	// The dependency graph's topological order only serves to detect
	// cycles; the emitted order is always this plain lexicographic sort.
	sort.Strings(expanded)
	c.Source = strings.Join(expanded, " ")
	return nil
}

// expand resolves every ref to its NSVC, following build/runtime
// dependencies (unless noDeps) via a topologically-sorted dependency graph,
// and layers "-devel" counterpart resolution on top.
func (s *moduleStrategy) expand(ctx context.Context, refs []string, noDeps bool) ([]string, error) {
	g := newDepGraph()
	resolved := make(map[string]*mbs.Module) // NSVC string -> Module

	var visit func(ref string) (string, error)
	visit = func(ref string) (string, error) {
		mod, err := s.mbs.LatestReady(ctx, ref)
		if err != nil {
			return "", odcserrors.Wrap(odcserrors.ResolutionError, err, "resolving module %q", ref)
		}
		nsvc := mod.NSVC.String()
		if _, ok := resolved[nsvc]; ok {
			return nsvc, nil
		}
		resolved[nsvc] = mod
		g.addNode(nsvc)

		if !noDeps {
			for _, dep := range append(append([]mbs.NSVC{}, mod.Requires...), mod.BuildRequires...) {
				depRef := dep.Name
				if dep.Stream != "" {
					depRef += ":" + dep.Stream
				}
				depNSVC, err := visit(depRef)
				if err != nil {
					return "", err
				}
				if err := g.addEdge(depNSVC, nsvc); err != nil {
					return "", fmt.Errorf("adding module dependency edge %s -> %s: %w", depNSVC, nsvc, err)
				}
			}
		}
		return nsvc, nil
	}

	for _, ref := range refs {
		if _, err := visit(ref); err != nil {
			return nil, err
		}
		if devel, ok := s.develCounterpart(ctx, ref, resolved); ok {
			if _, err := visit(devel); err != nil {
				return nil, err
			}
		}
	}

	ordered, err := g.sort()
	if err != nil {
		return nil, odcserrors.Wrap(odcserrors.ResolutionError, err, "ordering module dependencies")
	}
	return ordered, nil
}

// develCounterpart resolves a "-devel" counterpart by querying the non-devel
// name and re-appending "-devel" to it, per spec.md §4.2. It only applies
// when ref itself is not already a "-devel" reference.
func (s *moduleStrategy) develCounterpart(ctx context.Context, ref string, resolved map[string]*mbs.Module) (string, bool) {
	parts := strings.SplitN(ref, ":", 2)
	name := parts[0]
	if strings.HasSuffix(name, "-devel") {
		return "", false
	}

	mod, err := s.mbs.LatestReady(ctx, name+"-devel")
	if err != nil {
		return "", false
	}
	if _, ok := resolved[mod.NSVC.String()]; ok {
		return "", false
	}
	return name + "-devel", true
}
