// Package reuseindex decides whether an existing done compose can be
// aliased instead of re-running the external compose tool (spec.md §4.3,
// §4.4).
package reuseindex

import (
	"context"
	"fmt"
	"time"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/koji"
	"github.com/release-engineering/odcs/internal/store"
)

// Index finds and applies reuse candidates.
type Index struct {
	store store.Store
	koji  koji.Client
}

// New builds an Index against store and koji (used for the koji_tag
// inheritance-freshness check).
func New(s store.Store, kojiClient koji.Client) *Index {
	return &Index{store: s, koji: kojiClient}
}

// Find returns a done, unreused compose whose ReuseKey matches c's, or nil
// if none qualifies. raw_config composes never reuse and short-circuit
// without querying the store (spec.md §4.3).
func (idx *Index) Find(ctx context.Context, c *compose.Compose) (*compose.Compose, error) {
	if !c.Reusable() {
		return nil, nil
	}

	candidates, err := idx.store.ReuseCandidates(ctx, c.SourceType)
	if err != nil {
		return nil, fmt.Errorf("listing reuse candidates: %w", err)
	}

	key := c.ReuseKey()
	for _, candidate := range candidates {
		if candidate.ID == c.ID {
			continue
		}
		if candidate.ReuseKey() != key {
			continue
		}
		if c.SourceType == compose.SourceKojiTag {
			fresh, err := idx.tagStillFresh(ctx, candidate)
			if err != nil {
				return nil, err
			}
			if !fresh {
				continue
			}
		}
		return candidate, nil
	}
	return nil, nil
}

// tagStillFresh reports whether candidate's koji_tag inheritance is
// unchanged since candidate.KojiEvent, disqualifying it if anything
// inherited has moved since it was generated.
func (idx *Index) tagStillFresh(ctx context.Context, candidate *compose.Compose) (bool, error) {
	if candidate.KojiEvent == nil {
		return false, nil
	}
	changed, err := idx.koji.TagChangedSince(ctx, candidate.Source, *candidate.KojiEvent)
	if err != nil {
		return false, fmt.Errorf("checking inheritance freshness for tag %q: %w", candidate.Source, err)
	}
	return !changed, nil
}

// Apply aliases c onto candidate: sets c.ReusedID in memory (c's done
// transition persists it) and propagates expiration as max(c, candidate)
// onto both rows with two separate ExtendExpiration calls, which do not
// share a transaction (spec.md §4.4). The caller is still responsible for
// writing the repo-file artifact and transitioning c to done; Apply only
// touches the Store-level bookkeeping.
func Apply(ctx context.Context, s store.Store, c, candidate *compose.Compose) error {
	maxTTE := c.TimeToExpire
	if candidate.TimeToExpire.After(maxTTE) {
		maxTTE = candidate.TimeToExpire
	}

	if err := s.ExtendExpiration(ctx, candidate.ID, maxTTE, 0); err != nil {
		return fmt.Errorf("extending reuse target %d's expiration: %w", candidate.ID, err)
	}
	if err := s.ExtendExpiration(ctx, c.ID, maxTTE, 0); err != nil {
		return fmt.Errorf("extending compose %d's expiration: %w", c.ID, err)
	}

	c.ReusedID = &candidate.ID
	c.TimeToExpire = maxTTE
	return nil
}

// Renew extends target's expiration to newExpiry and propagates the same
// value to its reuse target (if any) and every compose that reuses it — the
// three-way propagation spec.md §6's PATCH rule and §4.4's renewal clause
// both require.
func Renew(ctx context.Context, s store.Store, target *compose.Compose, newExpiry time.Time) error {
	if !newExpiry.After(target.TimeToExpire) {
		return nil
	}

	if err := s.ExtendExpiration(ctx, target.ID, newExpiry, 0); err != nil {
		return fmt.Errorf("extending compose %d: %w", target.ID, err)
	}

	if target.ReusedID != nil {
		if err := s.ExtendExpiration(ctx, *target.ReusedID, newExpiry, 0); err != nil {
			return fmt.Errorf("extending reuse target %d: %w", *target.ReusedID, err)
		}
	}

	reusers, err := s.ReusersOf(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("listing reusers of compose %d: %w", target.ID, err)
	}
	for _, reuser := range reusers {
		if err := s.ExtendExpiration(ctx, reuser.ID, newExpiry, 0); err != nil {
			return fmt.Errorf("extending reuser %d: %w", reuser.ID, err)
		}
	}
	return nil
}
