package resolver

import (
	"context"

	"github.com/release-engineering/odcs/internal/compose"
)

// pulpStrategy performs no resolution: Pulp composes do not participate in
// reuse (spec.md §4.2).
type pulpStrategy struct{}

func (s *pulpStrategy) Resolve(_ context.Context, _ *compose.Compose) error { return nil }

// buildStrategy performs no resolution beyond the literal NVR list already
// validated at submission time (spec.md §4.2).
type buildStrategy struct{}

func (s *buildStrategy) Resolve(_ context.Context, _ *compose.Compose) error { return nil }
