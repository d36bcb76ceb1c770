// Package resolver mutates a newly-claimed compose so its inputs become
// reuse-stable before any generation work runs (spec.md §4.2). Each
// compose.SourceType is handled by its own strategy object, dispatched from
// a map built at construction time — the tagged-variant-with-per-type-
// strategy design spec.md §9 calls out explicitly.
package resolver

import (
	"context"
	"fmt"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/koji"
	"github.com/release-engineering/odcs/internal/mbs"
)

// strategy resolves one source_type's inputs in place on c.
type strategy interface {
	Resolve(ctx context.Context, c *compose.Compose) error
}

// Resolver dispatches Resolve calls to the strategy registered for a
// compose's SourceType.
type Resolver struct {
	strategies map[compose.SourceType]strategy
}

// New builds a Resolver with the standard six strategies, wired against the
// given Koji and MBS clients (repo/pulp/build/raw_config strategies need
// neither).
func New(kojiClient koji.Client, mbsClient mbs.Client) *Resolver {
	return &Resolver{
		strategies: map[compose.SourceType]strategy{
			compose.SourceModule:    &moduleStrategy{mbs: mbsClient},
			compose.SourceKojiTag:   &kojiTagStrategy{koji: kojiClient},
			compose.SourceRepo:      &repoStrategy{},
			compose.SourcePulp:      &pulpStrategy{},
			compose.SourceRawConfig: &rawConfigStrategy{},
			compose.SourceBuild:     &buildStrategy{},
		},
	}
}

// Resolve mutates c's reuse-relevant inputs per its SourceType.
func (r *Resolver) Resolve(ctx context.Context, c *compose.Compose) error {
	s, ok := r.strategies[c.SourceType]
	if !ok {
		return fmt.Errorf("resolver: no strategy registered for source_type %q", c.SourceType)
	}
	return s.Resolve(ctx, c)
}
