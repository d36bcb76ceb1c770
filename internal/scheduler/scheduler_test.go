package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/store"
	"github.com/release-engineering/odcs/internal/store/storetest"
)

// fakeWorker records every composeID it was asked to run and blocks on a
// per-call gate until the test releases it, so tests can observe in-flight
// tracking before the run completes.
type fakeWorker struct {
	mu    sync.Mutex
	runs  []int64
	gates map[int64]chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{gates: make(map[int64]chan struct{})}
}

// gateFor returns a channel that blocks Run(id) until closed. Must be called
// before the compose is submitted.
func (w *fakeWorker) gateFor(id int64) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.gates[id] = ch
	return ch
}

func (w *fakeWorker) Run(_ context.Context, id int64) error {
	w.mu.Lock()
	w.runs = append(w.runs, id)
	ch := w.gates[id]
	w.mu.Unlock()

	if ch != nil {
		<-ch
	}
	return nil
}

func (w *fakeWorker) ran(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.runs {
		if r == id {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestPickWaitingClaimsAndSubmits(t *testing.T) {
	s := storetest.New()
	c, err := s.CreateCompose(context.Background(), &compose.Compose{SourceType: compose.SourceRepo})
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}

	w := newFakeWorker()
	gate := w.gateFor(c.ID)
	defer close(gate)

	sched := New(s, w, clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, DefaultConfig())

	if err := sched.pickWaiting(context.Background()); err != nil {
		t.Fatalf("pickWaiting: %v", err)
	}

	waitFor(t, time.Second, func() bool { return w.ran(c.ID) })

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateGenerating {
		t.Errorf("state = %s, want generating", got.State)
	}

	sched.mu.Lock()
	_, tracked := sched.inFlight[c.ID]
	sched.mu.Unlock()
	if !tracked {
		t.Error("expected compose to be tracked as in-flight while its worker run is blocked")
	}
}

func TestPickWaitingSkipsAlreadyClaimed(t *testing.T) {
	s := storetest.New()
	c, err := s.CreateCompose(context.Background(), &compose.Compose{SourceType: compose.SourceRepo})
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}
	// Simulate another backend already having claimed it.
	if err := s.Transition(context.Background(), c.ID, compose.StateWait, compose.StateGenerating, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	w := newFakeWorker()
	sched := New(s, w, clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, DefaultConfig())

	if err := sched.pickWaiting(context.Background()); err != nil {
		t.Fatalf("pickWaiting: %v", err)
	}
	if w.ran(c.ID) {
		t.Error("did not expect a submit for a compose no longer in wait")
	}
}

func TestRecoverLostResubmitsUntrackedGenerating(t *testing.T) {
	s := storetest.New()
	c, err := s.CreateCompose(context.Background(), &compose.Compose{SourceType: compose.SourceRepo})
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}
	if err := s.Transition(context.Background(), c.ID, compose.StateWait, compose.StateGenerating, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	w := newFakeWorker()
	gate := w.gateFor(c.ID)
	defer close(gate)

	sched := New(s, w, clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, DefaultConfig())

	// Nothing in sched.inFlight yet (simulating a fresh process after
	// restart), so recoverLost must pick the orphaned generating compose up.
	if err := sched.recoverLost(context.Background()); err != nil {
		t.Fatalf("recoverLost: %v", err)
	}

	waitFor(t, time.Second, func() bool { return w.ran(c.ID) })
}

func TestRefreshTrackingDropsTerminalComposes(t *testing.T) {
	s := storetest.New()
	c, err := s.CreateCompose(context.Background(), &compose.Compose{SourceType: compose.SourceRepo})
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}
	if err := s.Transition(context.Background(), c.ID, compose.StateWait, compose.StateGenerating, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sched := New(s, newFakeWorker(), clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, DefaultConfig())
	sched.mu.Lock()
	sched.inFlight[c.ID] = "tool"
	sched.mu.Unlock()

	if err := s.Transition(context.Background(), c.ID, compose.StateGenerating, compose.StateDone, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition to done: %v", err)
	}

	sched.refreshTracking(context.Background())

	sched.mu.Lock()
	_, tracked := sched.inFlight[c.ID]
	sched.mu.Unlock()
	if tracked {
		t.Error("expected refreshTracking to drop a compose that reached a terminal state")
	}
}

func TestRunStopsOnContextCancelAndDrainsPools(t *testing.T) {
	s := storetest.New()
	c, err := s.CreateCompose(context.Background(), &compose.Compose{SourceType: compose.SourceRepo})
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}

	w := newFakeWorker()
	gate := w.gateFor(c.ID)

	clock := clockwork.NewFakeClock()
	sched := New(s, w, clock, discardLogger(), metrics.NopRecorder{}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return w.ran(c.ID) })

	cancel()
	close(gate)

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation and pool drain")
	}
}
