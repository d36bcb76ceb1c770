// Package expirer runs the periodic sweep that retires expired composes and
// reclaims their on-disk artifacts (spec.md §4.9). Its control loop mirrors
// scheduler.Scheduler's shape exactly: a clockwork ticker plus a ctx.Done()
// select, so both loops read the same way to an operator.
package expirer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/notify"
	"github.com/release-engineering/odcs/internal/store"
)

// Config tunes the Expirer's timing and on-disk layout.
type Config struct {
	TickInterval time.Duration
	TargetDir    string
}

// DefaultConfig returns the cadence spec.md §4.9 suggests.
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
	}
}

// Expirer is one backend process's expiry-and-reap control loop.
type Expirer struct {
	store    store.Store
	notifier *notify.Notifier
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	cfg      Config
}

// New builds an Expirer. clock defaults to the real wall clock when nil.
func New(s store.Store, notifier *notify.Notifier, clock clockwork.Clock, logger *slog.Logger, recorder metrics.Recorder, cfg Config) *Expirer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Expirer{
		store:    s,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		metrics:  recorder,
		cfg:      cfg,
	}
}

// Run executes the control loop until ctx is canceled.
func (e *Expirer) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			e.sweep(ctx)
		}
	}
}

func (e *Expirer) sweep(ctx context.Context) {
	start := e.clock.Now()
	removed := e.expireComposes(ctx)
	e.sweepOrphans(ctx)
	e.metrics.ObserveExpirerSweep(e.clock.Since(start).Seconds(), removed)
}

// expireComposes transitions every due compose to removed, reaps its
// artifact directory (unless it only reused another compose's), and returns
// how many were removed.
func (e *Expirer) expireComposes(ctx context.Context) int {
	due, err := e.store.ComposesToExpire(ctx, e.clock.Now())
	if err != nil {
		e.logger.Error("listing composes to expire failed", "error", err)
		return 0
	}

	removed := 0
	for _, c := range due {
		reason := "expired"
		if c.RemovedBy != "" {
			reason = "removed by " + c.RemovedBy
		}

		now := e.clock.Now()
		err := e.store.Transition(ctx, c.ID, c.State, compose.StateRemoved, store.TransitionExtra{
			StateReason: reason,
			TimeRemoved: &now,
		})
		if err != nil {
			e.logger.Error("transition to removed failed", "compose_id", c.ID, "error", err)
			continue
		}

		if c.ReusedID == nil {
			paths := c.DerivedPaths(e.cfg.TargetDir, "")
			e.removeToplevelDir(paths.ToplevelDir, c.ID)
		}

		e.notifier.Publish(ctx, notify.Event{ComposeID: c.ID, State: compose.StateRemoved, Reason: reason})
		removed++
	}
	return removed
}

// removeToplevelDir deletes dir, following spec.md §4.9's symlink-vs-real-
// directory handling: a symlink has both the link and its target removed; a
// plain directory is removed recursively; an absent path only logs a
// warning, since the Worker may never have created it (e.g. an early tool
// failure before any output was written).
func (e *Expirer) removeToplevelDir(dir string, composeID int64) {
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("toplevel dir missing, nothing to remove", "compose_id", composeID, "dir", dir)
		return
	}
	if err != nil {
		e.logger.Error("stat toplevel dir failed", "compose_id", composeID, "dir", dir, "error", err)
		return
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(dir)
		if err != nil {
			e.logger.Error("readlink toplevel dir failed", "compose_id", composeID, "dir", dir, "error", err)
			return
		}
		if !isAbs(target) {
			target = joinSibling(dir, target)
		}
		if err := os.RemoveAll(target); err != nil {
			e.logger.Error("removing symlink target failed", "compose_id", composeID, "target", target, "error", err)
		}
		if err := os.Remove(dir); err != nil {
			e.logger.Error("removing symlink failed", "compose_id", composeID, "dir", dir, "error", err)
		}
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		e.logger.Error("removing toplevel dir failed", "compose_id", composeID, "dir", dir, "error", err)
	}
}

// orphanPattern matches both the working-directory and latest-symlink naming
// spec.md §6 describes: odcs-<id>-1-<suffix> and latest-odcs-<id>-1.
var orphanPattern = regexp.MustCompile(`^(?:latest-)?odcs-(\d+)-1(?:-.*)?$`)

// sweepOrphans removes target_dir entries matching the ODCS naming pattern
// whose compose no longer exists or is already removed — directories a
// crashed Worker or a missed expiry cycle left behind.
func (e *Expirer) sweepOrphans(ctx context.Context) {
	if e.cfg.TargetDir == "" {
		return
	}
	entries, err := os.ReadDir(e.cfg.TargetDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.logger.Error("reading target dir failed", "dir", e.cfg.TargetDir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		m := orphanPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}

		c, err := e.store.GetCompose(ctx, id)
		orphaned := err != nil || c.State == compose.StateRemoved
		if !orphaned {
			continue
		}

		path := e.cfg.TargetDir + "/" + entry.Name()
		if err := os.RemoveAll(path); err != nil {
			e.logger.Error("removing orphan dir failed", "dir", path, "error", err)
		} else {
			e.logger.Info("removed orphan dir", "dir", path, "compose_id", id)
		}
	}
}

func isAbs(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

func joinSibling(dir, target string) string {
	i := len(dir) - 1
	for i >= 0 && dir[i] != '/' {
		i--
	}
	if i < 0 {
		return target
	}
	return dir[:i+1] + target
}
