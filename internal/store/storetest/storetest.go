// Package storetest provides an in-memory store.Store used by unit tests for
// scheduler, worker, and expirer, so those packages' race and transition
// logic can be exercised without a Postgres instance. Grounded on the
// teacher's workspace.NewStoreAt(dir) test-constructor pattern: a small,
// dependency-free stand-in that satisfies the same interface as the real
// implementation.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/odcserrors"
	"github.com/release-engineering/odcs/internal/store"
)

// Store is a mutex-guarded, in-process implementation of store.Store. Zero
// value is ready to use.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*compose.Compose
	respins map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[int64]*compose.Compose),
		respins: make(map[string]int),
	}
}

func clone(c *compose.Compose) *compose.Compose {
	cp := *c
	if c.KojiEvent != nil {
		v := *c.KojiEvent
		cp.KojiEvent = &v
	}
	if c.TimeDone != nil {
		v := *c.TimeDone
		cp.TimeDone = &v
	}
	if c.TimeRemoved != nil {
		v := *c.TimeRemoved
		cp.TimeRemoved = &v
	}
	if c.ReusedID != nil {
		v := *c.ReusedID
		cp.ReusedID = &v
	}
	if c.KojiTaskID != nil {
		v := *c.KojiTaskID
		cp.KojiTaskID = &v
	}
	return &cp
}

func (s *Store) CreateCompose(_ context.Context, c *compose.Compose) (*compose.Compose, error) {
	if !c.SourceType.Valid() {
		return nil, odcserrors.New(odcserrors.InvalidInput, "unknown source_type %q", c.SourceType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := clone(c)
	stored.ID = s.nextID
	stored.State = compose.StateWait
	stored.Results |= compose.ResultRepository
	s.records[stored.ID] = stored
	return clone(stored), nil
}

func (s *Store) GetCompose(_ context.Context, id int64) (*compose.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return nil, odcserrors.New(odcserrors.NotFound, "compose %d not found", id)
	}
	return clone(c), nil
}

func (s *Store) FindComposes(_ context.Context, f store.Filters, p store.Pagination, o store.Ordering) ([]*compose.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compose.Compose
	for _, c := range s.records {
		if f.Owner != "" && c.Owner != f.Owner {
			continue
		}
		if f.SourceType != "" && c.SourceType != f.SourceType {
			continue
		}
		if f.State != "" && c.State != f.State {
			continue
		}
		out = append(out, clone(c))
	}

	sort.Slice(out, func(i, j int) bool {
		var less bool
		if o.Column == "time_submitted" {
			less = out[i].TimeSubmitted.Before(out[j].TimeSubmitted)
		} else {
			less = out[i].ID < out[j].ID
		}
		if o.Desc {
			return !less
		}
		return less
	})

	if p.Offset > 0 {
		if p.Offset >= len(out) {
			return nil, nil
		}
		out = out[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *Store) ComposesInState(_ context.Context, state compose.State) ([]*compose.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compose.Compose
	for _, c := range s.records {
		if c.State == state {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ComposesToExpire(_ context.Context, now time.Time) ([]*compose.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compose.Compose
	for _, c := range s.records {
		if (c.State == compose.StateDone || c.State == compose.StateFailed) && c.TimeToExpire.Before(now) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Transition(_ context.Context, id int64, from, to compose.State, extra store.TransitionExtra) error {
	if !compose.CanTransition(from, to) {
		return odcserrors.New(odcserrors.InvalidTransition, "no edge %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return odcserrors.New(odcserrors.NotFound, "compose %d not found", id)
	}
	if c.State != from {
		return odcserrors.New(odcserrors.InvalidTransition, "compose %d is not in state %s", id, from)
	}

	c.State = to
	c.StateReason = extra.StateReason
	if extra.TimeDone != nil {
		c.TimeDone = extra.TimeDone
	}
	if extra.TimeRemoved != nil {
		c.TimeRemoved = extra.TimeRemoved
	}
	if extra.ReusedID != nil {
		c.ReusedID = extra.ReusedID
	}
	if extra.PungiComposeID != "" {
		c.PungiComposeID = extra.PungiComposeID
	}
	return nil
}

func (s *Store) ExtendExpiration(_ context.Context, id int64, fromTime time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return odcserrors.New(odcserrors.NotFound, "compose %d not found", id)
	}
	candidate := fromTime.Add(ttl)
	if candidate.After(c.TimeToExpire) {
		c.TimeToExpire = candidate
	}
	return nil
}

func (s *Store) ReuseCandidates(_ context.Context, sourceType compose.SourceType) ([]*compose.Compose, error) {
	if sourceType == compose.SourceRawConfig {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compose.Compose
	for _, c := range s.records {
		if c.SourceType == sourceType && c.State == compose.StateDone && c.ReusedID == nil {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ReusersOf(_ context.Context, id int64) ([]*compose.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*compose.Compose
	for _, c := range s.records {
		if c.ReusedID != nil && *c.ReusedID == id {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RequestRemoval(_ context.Context, id int64, by string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.records[id]
	if !ok {
		return odcserrors.New(odcserrors.NotFound, "compose %d not found", id)
	}
	if c.State != compose.StateDone && c.State != compose.StateFailed {
		return odcserrors.New(odcserrors.InvalidState, "compose %d is not done or failed", id)
	}
	c.TimeToExpire = now
	c.RemovedBy = by
	return nil
}

func (s *Store) NextRespin(_ context.Context, releaseShort, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := releaseShort + "/" + date
	respin := s.respins[key]
	s.respins[key] = respin + 1
	return respin, nil
}

var _ store.Store = (*Store)(nil)
