package expirer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/notify"
	"github.com/release-engineering/odcs/internal/store"
	"github.com/release-engineering/odcs/internal/store/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func claim(t *testing.T, s store.Store, c *compose.Compose) *compose.Compose {
	t.Helper()
	created, err := s.CreateCompose(context.Background(), c)
	if err != nil {
		t.Fatalf("CreateCompose: %v", err)
	}
	if err := s.Transition(context.Background(), created.ID, compose.StateWait, compose.StateGenerating, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition to generating: %v", err)
	}
	return created
}

func claimAndFinish(t *testing.T, s store.Store, c *compose.Compose, final compose.State) *compose.Compose {
	t.Helper()
	created := claim(t, s, c)
	if err := s.Transition(context.Background(), created.ID, compose.StateGenerating, final, store.TransitionExtra{}); err != nil {
		t.Fatalf("Transition to %s: %v", final, err)
	}
	got, err := s.GetCompose(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	return got
}

func TestExpireComposesRemovesDueOnesAndDeletesToplevelDir(t *testing.T) {
	s := storetest.New()
	dir := t.TempDir()
	c := claimAndFinish(t, s, &compose.Compose{SourceType: compose.SourceRepo}, compose.StateDone)

	paths := c.DerivedPaths(dir, "")
	if err := os.MkdirAll(paths.ToplevelDir, 0o755); err != nil {
		t.Fatalf("mkdir toplevel: %v", err)
	}

	clock := clockwork.NewFakeClock()
	e := New(s, notify.NewNotifier(discardLogger()), clock, discardLogger(), metrics.NopRecorder{}, Config{TargetDir: dir})

	removed := e.expireComposes(context.Background())
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateRemoved {
		t.Fatalf("state = %s, want removed", got.State)
	}
	if _, err := os.Stat(paths.ToplevelDir); !os.IsNotExist(err) {
		t.Fatalf("expected toplevel dir to be gone, stat err = %v", err)
	}
}

func TestExpireComposesRemovesReuseTargetDirWhenBothExpire(t *testing.T) {
	s := storetest.New()
	dir := t.TempDir()

	base := claimAndFinish(t, s, &compose.Compose{SourceType: compose.SourceRepo}, compose.StateDone)
	basePaths := base.DerivedPaths(dir, "")
	if err := os.MkdirAll(basePaths.ToplevelDir, 0o755); err != nil {
		t.Fatalf("mkdir base toplevel: %v", err)
	}

	// Simulate the Worker's reuse write path: a second compose reaches done
	// carrying ReusedID == base.ID via Transition's side channel, the same
	// way worker.done persists a reuse-backed result.
	reuser := claim(t, s, &compose.Compose{SourceType: compose.SourceRepo})
	baseID := base.ID
	if err := s.Transition(context.Background(), reuser.ID, compose.StateGenerating, compose.StateDone, store.TransitionExtra{ReusedID: &baseID}); err != nil {
		t.Fatalf("Transition with ReusedID: %v", err)
	}

	clock := clockwork.NewFakeClock()
	e := New(s, notify.NewNotifier(discardLogger()), clock, discardLogger(), metrics.NopRecorder{}, Config{TargetDir: dir})

	if removed := e.expireComposes(context.Background()); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	if _, err := os.Stat(basePaths.ToplevelDir); !os.IsNotExist(err) {
		t.Fatalf("expected base's toplevel dir to be gone once its only reference (itself) expires, stat err = %v", err)
	}
}

func TestRemoveToplevelDirFollowsSymlink(t *testing.T) {
	s := storetest.New()
	dir := t.TempDir()
	c := claimAndFinish(t, s, &compose.Compose{SourceType: compose.SourceRepo}, compose.StateDone)

	paths := c.DerivedPaths(dir, "")
	realDir := filepath.Join(dir, "odcs-real-target")
	if err := os.MkdirAll(realDir, 0o755); err != nil {
		t.Fatalf("mkdir real target: %v", err)
	}
	if err := os.Symlink(realDir, paths.ToplevelDir); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	e := New(s, notify.NewNotifier(discardLogger()), clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, Config{TargetDir: dir})
	e.removeToplevelDir(paths.ToplevelDir, c.ID)

	if _, err := os.Lstat(paths.ToplevelDir); !os.IsNotExist(err) {
		t.Fatalf("expected symlink to be gone, stat err = %v", err)
	}
	if _, err := os.Stat(realDir); !os.IsNotExist(err) {
		t.Fatalf("expected symlink target to be gone, stat err = %v", err)
	}
}

func TestSweepOrphansRemovesDirsForGoneOrRemovedComposes(t *testing.T) {
	s := storetest.New()
	dir := t.TempDir()

	removedCompose := claimAndFinish(t, s, &compose.Compose{SourceType: compose.SourceRepo}, compose.StateDone)
	now := time.Now()
	if err := s.Transition(context.Background(), removedCompose.ID, compose.StateDone, compose.StateRemoved, store.TransitionExtra{TimeRemoved: &now}); err != nil {
		t.Fatalf("Transition to removed: %v", err)
	}

	live := claimAndFinish(t, s, &compose.Compose{SourceType: compose.SourceRepo}, compose.StateDone)

	orphanForRemoved := filepath.Join(dir, "odcs-"+strconv.FormatInt(removedCompose.ID, 10)+"-1-20260731.n.0")
	orphanForGone := filepath.Join(dir, "latest-odcs-99999-1")
	liveDir := filepath.Join(dir, "latest-odcs-"+strconv.FormatInt(live.ID, 10)+"-1")
	unrelated := filepath.Join(dir, "not-an-odcs-dir")

	for _, d := range []string{orphanForRemoved, orphanForGone, liveDir, unrelated} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}

	e := New(s, notify.NewNotifier(discardLogger()), clockwork.NewFakeClock(), discardLogger(), metrics.NopRecorder{}, Config{TargetDir: dir})
	e.sweepOrphans(context.Background())

	if _, err := os.Stat(orphanForRemoved); !os.IsNotExist(err) {
		t.Errorf("expected orphan dir for a removed compose to be swept, stat err = %v", err)
	}
	if _, err := os.Stat(orphanForGone); !os.IsNotExist(err) {
		t.Errorf("expected orphan dir for a nonexistent compose to be swept, stat err = %v", err)
	}
	if _, err := os.Stat(liveDir); err != nil {
		t.Errorf("expected live compose's dir to survive the sweep: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Errorf("expected unrelated dir to survive the sweep: %v", err)
	}
}

