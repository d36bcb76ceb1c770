package resolver

import (
	"context"
	"strings"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/odcserrors"
)

// rawConfigStrategy validates that source is "name#commit" shaped; it
// performs no further resolution since raw_config composes never
// participate in reuse (spec.md §4.2).
type rawConfigStrategy struct{}

func (s *rawConfigStrategy) Resolve(_ context.Context, c *compose.Compose) error {
	if !strings.Contains(c.Source, "#") {
		return odcserrors.New(odcserrors.ResolutionError, "raw_config source %q is missing a #commit suffix", c.Source)
	}
	name, commit, _ := strings.Cut(c.Source, "#")
	if name == "" || commit == "" {
		return odcserrors.New(odcserrors.ResolutionError, "raw_config source %q has an empty name or commit", c.Source)
	}
	return nil
}
