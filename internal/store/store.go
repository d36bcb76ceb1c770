// Package store defines the durable Store contract for composes (spec.md
// §4.1) and the filters/pagination types its query side accepts. Concrete
// implementations live in postgres.go (production, backed by jackc/pgx) and
// storetest (an in-memory fake used by every other package's unit tests).
package store

import (
	"context"
	"time"

	"github.com/release-engineering/odcs/internal/compose"
)

// Filters narrows FindComposes results. Zero values mean "no filter" for
// that field.
type Filters struct {
	Owner      string
	SourceType compose.SourceType
	State      compose.State
}

// Pagination bounds a FindComposes call.
type Pagination struct {
	Limit  int
	Offset int
}

// Ordering selects the FindComposes sort column/direction.
type Ordering struct {
	Column string // "id" or "time_submitted"
	Desc   bool
}

// Store is the durable persistence contract every orchestration component
// reads and writes through. State is mutated exclusively via Transition,
// ExtendExpiration, and RequestRemoval — no other method changes `state`,
// `time_to_expire`, or `removed_by`.
type Store interface {
	// CreateCompose validates spec, assigns an id, persists it in StateWait,
	// and returns the stored snapshot.
	CreateCompose(ctx context.Context, c *compose.Compose) (*compose.Compose, error)

	GetCompose(ctx context.Context, id int64) (*compose.Compose, error)

	FindComposes(ctx context.Context, f Filters, p Pagination, o Ordering) ([]*compose.Compose, error)

	// ComposesInState returns every compose currently in the given state,
	// used by Scheduler (StateWait, StateGenerating) and Expirer.
	ComposesInState(ctx context.Context, state compose.State) ([]*compose.Compose, error)

	// ComposesToExpire returns composes with state in {done, failed} and
	// time_to_expire < now.
	ComposesToExpire(ctx context.Context, now time.Time) ([]*compose.Compose, error)

	// Transition performs the conditional update
	// `state = to WHERE id = id AND state = from`, returning
	// odcserrors.InvalidTransition if the current state isn't `from`.
	// extra carries state_reason and/or terminal timestamps to set in the
	// same statement.
	Transition(ctx context.Context, id int64, from, to compose.State, extra TransitionExtra) error

	// ExtendExpiration sets time_to_expire := max(current, fromTime+ttl).
	ExtendExpiration(ctx context.Context, id int64, fromTime time.Time, ttl time.Duration) error

	// ReuseCandidates returns done, unreused composes of sourceType, the only
	// narrowing it applies (full key comparison is still the caller's job
	// since koji_tag additionally depends on live inheritance freshness).
	ReuseCandidates(ctx context.Context, sourceType compose.SourceType) ([]*compose.Compose, error)

	// ReusersOf returns every compose whose ReusedID == id.
	ReusersOf(ctx context.Context, id int64) ([]*compose.Compose, error)

	// RequestRemoval implements early deletion (spec.md §4.10): sets
	// time_to_expire := now and removed_by := by, only for composes in
	// {done, failed}. Returns odcserrors.InvalidState otherwise.
	RequestRemoval(ctx context.Context, id int64, by string, now time.Time) error

	// NextRespin returns a monotonically increasing per-(releaseShort,date)
	// counter, surviving process restarts (spec.md §4.7 ComposeInfo respin).
	NextRespin(ctx context.Context, releaseShort, date string) (int, error)
}

// TransitionExtra carries the side-effect fields a Transition call sets
// alongside `state`, so the whole thing commits in one statement/transaction.
type TransitionExtra struct {
	StateReason string
	TimeDone    *time.Time
	TimeRemoved *time.Time
	// ReusedID, if non-nil, is persisted as the compose's reused_id in the
	// same statement — set when a generating->done transition is reuse-backed.
	ReusedID *int64
	// PungiComposeID, if non-empty, is persisted as the compose's
	// pungi_compose_id — the external tool's own run identifier.
	PungiComposeID string
}
