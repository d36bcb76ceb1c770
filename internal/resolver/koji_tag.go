package resolver

import (
	"context"
	"fmt"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/koji"
)

// kojiTagStrategy resolves a koji_tag compose's koji_event: if already set
// (the resurrection path, spec.md §4.9 "Request-surface regeneration"),
// it's kept unchanged; otherwise the current hub event id is fetched and
// pinned.
type kojiTagStrategy struct {
	koji koji.Client
}

func (s *kojiTagStrategy) Resolve(ctx context.Context, c *compose.Compose) error {
	if c.KojiEvent != nil {
		return nil
	}
	event, err := s.koji.CurrentEvent(ctx)
	if err != nil {
		return fmt.Errorf("resolving koji_tag event for %q: %w", c.Source, err)
	}
	c.KojiEvent = &event
	return nil
}
