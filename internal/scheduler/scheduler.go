// Package scheduler runs the single periodic control loop per backend
// process that claims waiting composes and dispatches them to bounded
// worker pools (spec.md §4.5).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/store"
)

// ComposeWorker runs a single claimed compose to completion. Implemented by
// worker.Worker; declared here so scheduler depends only on the contract.
type ComposeWorker interface {
	Run(ctx context.Context, composeID int64) error
}

// Config tunes the Scheduler's timing and pool sizes.
type Config struct {
	TickInterval  time.Duration
	WaitThreshold time.Duration
	ToolPoolSize  int
	PulpPoolSize  int
}

// DefaultConfig returns the constants spec.md §4.5 suggests.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second,
		WaitThreshold: 3 * time.Minute,
		ToolPoolSize:  4,
		PulpPoolSize:  2,
	}
}

// Scheduler is one backend process's claim-and-dispatch control loop.
type Scheduler struct {
	store   store.Store
	worker  ComposeWorker
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics metrics.Recorder
	cfg     Config

	toolPool *errgroup.Group
	pulpPool *errgroup.Group

	mu          sync.Mutex
	inFlight    map[int64]string // compose id -> pool name ("tool" or "pulp")
	pulpSources map[compose.SourceType]bool
}

// New builds a Scheduler. clock defaults to the real wall clock when nil.
func New(s store.Store, w ComposeWorker, clock clockwork.Clock, logger *slog.Logger, recorder metrics.Recorder, cfg Config) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	toolPool := &errgroup.Group{}
	toolPool.SetLimit(cfg.ToolPoolSize)
	pulpPool := &errgroup.Group{}
	pulpPool.SetLimit(cfg.PulpPoolSize)

	return &Scheduler{
		store:    s,
		worker:   w,
		clock:    clock,
		logger:   logger,
		metrics:  recorder,
		cfg:      cfg,
		toolPool: toolPool,
		pulpPool: pulpPool,
		inFlight: make(map[int64]string),
		pulpSources: map[compose.SourceType]bool{
			compose.SourcePulp: true,
		},
	}
}

// Run executes the control loop until ctx is canceled. It performs one tick
// immediately, then on every TickInterval thereafter — cooperative,
// single-threaded per backend, dispatching claimed composes to the bounded
// worker pools (spec.md §4.5, §5).
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping, waiting for in-flight workers")
			_ = s.toolPool.Wait()
			_ = s.pulpPool.Wait()
			return ctx.Err()
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := s.clock.Now()
	defer func() {
		s.metrics.ObserveSchedulerTick(s.clock.Since(start).Seconds())
	}()

	if err := s.recoverLost(ctx); err != nil {
		s.logger.Error("recover lost composes failed", "error", err)
	}
	if err := s.pickWaiting(ctx); err != nil {
		s.logger.Error("pick waiting composes failed", "error", err)
	}
	s.refreshTracking(ctx)
}

// recoverLost resubmits every compose in generating that this process isn't
// currently tracking (covers restarts). The Worker returns without doing
// anything for a compose that is no longer in generating, so resubmitting an
// already-finished compose is harmless. The Worker makes no conditional
// transition of its own on start, so a generating compose that two
// processes both find untracked is run by both.
func (s *Scheduler) recoverLost(ctx context.Context) error {
	generating, err := s.store.ComposesInState(ctx, compose.StateGenerating)
	if err != nil {
		return err
	}

	for _, c := range generating {
		s.mu.Lock()
		_, tracked := s.inFlight[c.ID]
		s.mu.Unlock()
		if tracked {
			continue
		}
		s.track(c)
		s.submit(c)
	}
	return nil
}

// pickWaiting claims every eligible waiting compose and submits it. Every
// compose in wait is either older than WaitThreshold or was just created —
// the union spec.md §4.5 describes — so every wait row is a claim
// candidate; WaitThreshold exists to document intent rather than to filter
// anything out here.
func (s *Scheduler) pickWaiting(ctx context.Context) error {
	waiting, err := s.store.ComposesInState(ctx, compose.StateWait)
	if err != nil {
		return err
	}

	for _, c := range waiting {
		if err := s.store.Transition(ctx, c.ID, compose.StateWait, compose.StateGenerating, store.TransitionExtra{}); err != nil {
			// Another backend's Scheduler won the claim race; not an error.
			continue
		}

		s.track(c)
		s.submit(c)
	}
	return nil
}

// track marks c as in-flight under the pool it will run in and refreshes the
// per-pool in-flight gauges.
func (s *Scheduler) track(c *compose.Compose) {
	poolName := "tool"
	if s.pulpSources[c.SourceType] {
		poolName = "pulp"
	}

	s.mu.Lock()
	s.inFlight[c.ID] = poolName
	s.mu.Unlock()
	s.reportInFlight()
}

// reportInFlight recomputes and publishes the per-pool in-flight counts.
// Callers must not hold s.mu.
func (s *Scheduler) reportInFlight() {
	s.mu.Lock()
	var toolCount, pulpCount int
	for _, pool := range s.inFlight {
		if pool == "pulp" {
			pulpCount++
		} else {
			toolCount++
		}
	}
	s.mu.Unlock()

	s.metrics.SetInFlight("tool", toolCount)
	s.metrics.SetInFlight("pulp", pulpCount)
}

// refreshTracking drops any id whose Store state is no longer generating.
func (s *Scheduler) refreshTracking(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	dropped := false
	for _, id := range ids {
		c, err := s.store.GetCompose(ctx, id)
		if err != nil || c.State != compose.StateGenerating {
			s.mu.Lock()
			delete(s.inFlight, id)
			s.mu.Unlock()
			dropped = true
		}
	}
	if dropped {
		s.reportInFlight()
	}
}

// submit dispatches c to the pool matching its source type without blocking:
// when that pool has no free slot, c is untracked again so the next tick's
// recoverLost resubmits it. Caller must have already called track(c).
func (s *Scheduler) submit(c *compose.Compose) {
	pool := s.toolPool
	poolName := "tool"
	if s.pulpSources[c.SourceType] {
		pool = s.pulpPool
		poolName = "pulp"
	}

	id := c.ID
	started := pool.TryGo(func() error {
		ctx := context.Background()
		if err := s.worker.Run(ctx, id); err != nil {
			s.logger.Error("worker run failed", "compose_id", id, "pool", poolName, "error", err)
		}
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
		s.reportInFlight()
		return nil
	})
	if !started {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
		s.reportInFlight()
	}
}
