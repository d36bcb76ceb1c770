// Package worker implements the per-compose execution pipeline a Scheduler
// dispatches a claimed compose to (spec.md §4.6): resolve, check reuse,
// render tool configuration, invoke the external compose tool, validate its
// output, write the repo-file artifact, and reach a terminal transition.
// Grounded on the teacher's compose.Helper exec-wrapping idiom
// (internal/toolrunner) and its engine.Engine single-entry-point shape
// (one Run method fronting an ordered sequence of fallible steps).
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/notify"
	"github.com/release-engineering/odcs/internal/odcserrors"
	"github.com/release-engineering/odcs/internal/pulp"
	"github.com/release-engineering/odcs/internal/resolver"
	"github.com/release-engineering/odcs/internal/reuseindex"
	"github.com/release-engineering/odcs/internal/store"
	"github.com/release-engineering/odcs/internal/toolconfig"
	"github.com/release-engineering/odcs/internal/toolrunner"
)

// Config carries the process-level settings every compose's pipeline run
// shares.
type Config struct {
	Release        toolconfig.Release
	TargetDir      string
	TargetDirURL   string
	ToolBinary     string
	ToolTimeout    time.Duration
	LookasideRepos []string
	RawConfigRepo  string // git URL cloned for raw_config composes (the name before "#" in source when empty); the ref is always the "#<commit>" in source, there is no configured ref
	WrapperConfig  string // optional path to a main-config overlay for raw_config composes
}

// Worker runs one compose at a time, statelessly, as dispatched by a
// Scheduler's worker pool (spec.md §4.6). Exclusivity on a given compose is
// guaranteed by the Scheduler's compare-and-set claim, so Run never needs to
// lock anything itself.
type Worker struct {
	store      store.Store
	resolver   *resolver.Resolver
	reuseIndex *reuseindex.Index
	pulp       pulp.Client
	runner     toolrunner.Runner
	notifier   *notify.Notifier
	metrics    metrics.Recorder
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        Config
}

// New builds a Worker from its injected collaborators.
func New(s store.Store, r *resolver.Resolver, idx *reuseindex.Index, pulpClient pulp.Client, runner toolrunner.Runner, notifier *notify.Notifier, recorder metrics.Recorder, clock clockwork.Clock, logger *slog.Logger, cfg Config) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Worker{
		store:      s,
		resolver:   r,
		reuseIndex: idx,
		pulp:       pulpClient,
		runner:     runner,
		notifier:   notifier,
		metrics:    recorder,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run executes the pipeline for composeID. It is safe to call more than
// once for the same id (the Scheduler does, after a restart): a compose no
// longer in generating is a no-op.
func (w *Worker) Run(ctx context.Context, composeID int64) error {
	c, err := w.store.GetCompose(ctx, composeID)
	if err != nil {
		return err
	}
	if c.State != compose.StateGenerating {
		return nil
	}

	var runErr error
	if c.SourceType == compose.SourcePulp {
		runErr = w.runPulp(ctx, c)
	} else {
		runErr = w.runToolBased(ctx, c)
	}

	if runErr != nil {
		w.fail(ctx, c, runErr)
	}
	return runErr
}

// fail transitions c to failed with a state_reason built from runErr,
// matching spec.md §4.6 step 4's uncaught-error handling.
func (w *Worker) fail(ctx context.Context, c *compose.Compose, runErr error) {
	now := w.clock.Now()
	reason := runErr.Error()

	if err := w.store.Transition(ctx, c.ID, compose.StateGenerating, compose.StateFailed, store.TransitionExtra{
		StateReason: reason,
		TimeDone:    &now,
	}); err != nil {
		w.logger.Error("failed to record compose failure", "compose_id", c.ID, "error", err)
		return
	}
	w.logger.Error("compose failed", "compose_id", c.ID, "reason", reason)
	w.notifier.Publish(ctx, notify.Event{ComposeID: c.ID, State: compose.StateFailed, Reason: reason})
}

func (w *Worker) done(ctx context.Context, c *compose.Compose, extra store.TransitionExtra) error {
	now := w.clock.Now()
	extra.TimeDone = &now
	if err := w.store.Transition(ctx, c.ID, compose.StateGenerating, compose.StateDone, extra); err != nil {
		return fmt.Errorf("recording compose %d done: %w", c.ID, err)
	}
	w.notifier.Publish(ctx, notify.Event{ComposeID: c.ID, State: compose.StateDone, Reason: extra.StateReason})
	return nil
}

// runPulp backs a pulp-source compose entirely from Pulp content-set
// lookups; it never invokes the external tool or participates in reuse
// (spec.md §4.6 step 2).
func (w *Worker) runPulp(ctx context.Context, c *compose.Compose) error {
	contentSets := strings.Fields(c.Source)
	if len(contentSets) == 0 {
		return odcserrors.New(odcserrors.ValidationFailure, "pulp compose has no content-sets")
	}
	includeUnpublished := c.Flags.Has(compose.FlagIncludeUnpublishedPulpRepos)

	paths := c.DerivedPaths(w.cfg.TargetDir, w.cfg.TargetDirURL)
	if err := os.MkdirAll(paths.ResultRepoDir, 0o755); err != nil {
		return fmt.Errorf("creating pulp result dir %s: %w", paths.ResultRepoDir, err)
	}

	sigkeySet := make(map[string]struct{})
	archSet := make(map[string]struct{})
	sections := make([]toolconfig.RepoSection, 0, len(contentSets))

	for i, cs := range contentSets {
		repos, err := w.pulp.ReposForContentSet(ctx, cs, includeUnpublished)
		if err != nil {
			return err
		}

		urlsByArch := make(map[string]string, len(repos))
		var sigkeys []string
		for j, r := range repos {
			if j > 0 && compose.NormalizedTokenSet(strings.Join(r.Sigkeys, " ")) != compose.NormalizedTokenSet(strings.Join(repos[0].Sigkeys, " ")) {
				return odcserrors.New(odcserrors.ValidationFailure, "content-set %q has per-arch repositories with differing sigkeys", cs)
			}
			urlsByArch[r.Arch] = r.URL
			archSet[r.Arch] = struct{}{}
			for _, k := range r.Sigkeys {
				sigkeySet[k] = struct{}{}
				sigkeys = appendUnique(sigkeys, k)
			}
		}

		baseURL := ""
		if len(urlsByArch) == 1 {
			for _, u := range urlsByArch {
				baseURL = u
			}
		} else if merged, ok := toolconfig.MergeByArch(urlsByArch); ok {
			baseURL = merged
		} else {
			return odcserrors.New(odcserrors.ValidationFailure, "content-set %q has divergent per-arch URLs that do not share a $basearch pattern", cs)
		}

		sections = append(sections, toolconfig.RepoSection{
			ID:      fmt.Sprintf("odcs-%d-%d", c.ID, i),
			Name:    cs,
			BaseURL: baseURL,
			Sigkeys: sigkeys,
		})
	}

	if err := toolconfig.WriteRepofile(paths.ResultRepofilePath, sections); err != nil {
		return fmt.Errorf("writing pulp repofile: %w", err)
	}

	w.logger.Info("pulp compose resolved", "compose_id", c.ID, "content_sets", contentSets, "arches", keys(archSet), "sigkeys", keys(sigkeySet))

	return w.done(ctx, c, store.TransitionExtra{StateReason: "pulp repositories resolved"})
}

// runToolBased covers every source type except pulp: resolve, check reuse,
// and either alias an existing done compose or invoke the external tool
// (spec.md §4.6 step 3).
func (w *Worker) runToolBased(ctx context.Context, c *compose.Compose) error {
	if err := w.resolver.Resolve(ctx, c); err != nil {
		return odcserrors.Wrap(odcserrors.ResolutionError, err, "resolving compose %d", c.ID)
	}

	candidate, err := w.reuseIndex.Find(ctx, c)
	if err != nil {
		return err
	}
	if candidate != nil {
		if err := reuseindex.Apply(ctx, w.store, c, candidate); err != nil {
			return fmt.Errorf("applying reuse of compose %d onto %d: %w", candidate.ID, c.ID, err)
		}
		// c.DerivedPaths now resolves to candidate's own directory, which
		// already has a repo-file written by candidate's own run; nothing
		// further to materialize.
		return w.done(ctx, c, store.TransitionExtra{
			StateReason: fmt.Sprintf("reused compose %d", candidate.ID),
			ReusedID:    &candidate.ID,
		})
	}

	return w.runTool(ctx, c)
}

// runTool renders configuration, forks the external compose tool, validates
// its output, and writes the repo-file (spec.md §4.6 step 3c-3g, §4.7, §4.8).
func (w *Worker) runTool(ctx context.Context, c *compose.Compose) error {
	paths := c.DerivedPaths(w.cfg.TargetDir, w.cfg.TargetDirURL)
	if err := os.MkdirAll(paths.ToplevelDir, 0o755); err != nil {
		return fmt.Errorf("creating working directory %s: %w", paths.ToplevelDir, err)
	}

	if c.SourceType == compose.SourceRawConfig {
		if err := w.materializeRawConfig(ctx, c, paths.ToplevelDir); err != nil {
			return odcserrors.Wrap(odcserrors.ToolFailure, err, "materializing raw_config for compose %d", c.ID)
		}
	} else {
		if err := w.renderToolConfig(ctx, c, paths.ToplevelDir); err != nil {
			return odcserrors.Wrap(odcserrors.ToolFailure, err, "rendering tool configuration for compose %d", c.ID)
		}
	}

	mainConfigPath := filepath.Join(paths.ToplevelDir, "main.conf")
	runCfg := toolrunner.RunConfig{
		Binary:  w.cfg.ToolBinary,
		Args:    []string{"--config", mainConfigPath, "--compose-dir", paths.ToplevelDir},
		WorkDir: paths.ToplevelDir,
		Timeout: w.cfg.ToolTimeout,
	}

	start := w.clock.Now()
	result, runErr := w.runner.Run(ctx, runCfg)
	elapsed := w.clock.Since(start).Seconds()

	if runErr != nil {
		w.metrics.ObserveToolRun("failure", elapsed)
		return w.toolFailure(result, runErr)
	}
	w.metrics.ObserveToolRun("success", elapsed)

	if requested := strings.Fields(c.Packages); len(requested) > 0 {
		manifestPath := filepath.Join(paths.ResultRepoDir, "metadata", "rpms.json")
		if err := validatePackageManifest(manifestPath, requested); err != nil {
			return odcserrors.Wrap(odcserrors.ValidationFailure, err, "validating package manifest for compose %d", c.ID)
		}
	}

	if err := toolconfig.WriteRepofile(paths.ResultRepofilePath, []toolconfig.RepoSection{{
		ID:      paths.Name,
		Name:    paths.Name,
		BaseURL: paths.ResultRepoURL + "/$basearch/os",
		Sigkeys: strings.Fields(c.Sigkeys),
	}}); err != nil {
		return fmt.Errorf("writing repofile for compose %d: %w", c.ID, err)
	}

	hardlinkDedup(w.logger, paths.ToplevelDir)

	return w.done(ctx, c, store.TransitionExtra{StateReason: "compose generated", PungiComposeID: c.PungiComposeID})
}

// toolFailure folds a toolrunner error and the tool's own parsed error log
// into a single state_reason (spec.md §4.6 step 3c).
func (w *Worker) toolFailure(result *toolrunner.RunResult, runErr error) error {
	reason := runErr.Error()
	if result != nil && result.StderrLog != "" {
		if lines, err := toolrunner.ParseErrorLines(result.StderrLog); err == nil && len(lines) > 0 {
			reason = reason + ": " + strings.Join(lines, "; ")
		}
	}
	return odcserrors.New(odcserrors.ToolFailure, "%s", reason)
}

// renderToolConfig materializes main.conf, variants.xml, and comps.xml in
// workDir for every source type except raw_config (spec.md §4.7).
func (w *Worker) renderToolConfig(ctx context.Context, c *compose.Compose, workDir string) error {
	now := w.clock.Now()
	date := now.Format("20060102")
	respin, err := w.store.NextRespin(ctx, w.cfg.Release.Short, date)
	if err != nil {
		return fmt.Errorf("allocating respin: %w", err)
	}
	info := toolconfig.ComposeInfo{Release: w.cfg.Release, Date: date, Respin: respin}
	c.PungiComposeID = info.ComposeID()

	params := toolconfig.ParamsFor(c, w.cfg.Release, w.cfg.LookasideRepos)
	if err := toolconfig.RenderMainConfig(filepath.Join(workDir, "main.conf"), params); err != nil {
		return err
	}

	variantsParams := toolconfig.VariantsParams{Arches: strings.Fields(c.Arches)}
	if c.SourceType == compose.SourceModule {
		variantsParams.Modules = strings.Fields(c.Source)
	}
	if packages := strings.Fields(c.Packages); len(packages) > 0 {
		variantsParams.Groups = []string{"odcs-group"}
		if err := toolconfig.RenderComps(filepath.Join(workDir, "comps.xml"), packages); err != nil {
			return err
		}
	}
	return toolconfig.RenderVariants(filepath.Join(workDir, "variants.xml"), variantsParams)
}

// materializeRawConfig clones the configured pipeline repo at the pinned
// commit and overlays a wrapper config if one is configured (spec.md §4.7
// raw_config branch).
func (w *Worker) materializeRawConfig(ctx context.Context, c *compose.Compose, workDir string) error {
	name, commit, ok := strings.Cut(c.Source, "#")
	if !ok {
		return fmt.Errorf("raw_config source %q missing #<commit> suffix", c.Source)
	}
	repoURL := w.cfg.RawConfigRepo
	if repoURL == "" {
		repoURL = name
	}

	if err := toolrunner.CloneRawConfig(ctx, repoURL, commit, workDir); err != nil {
		return err
	}

	if w.cfg.WrapperConfig != "" {
		data, err := os.ReadFile(w.cfg.WrapperConfig)
		if err != nil {
			return fmt.Errorf("reading wrapper config %s: %w", w.cfg.WrapperConfig, err)
		}
		if err := os.WriteFile(filepath.Join(workDir, "main.conf"), data, 0o644); err != nil {
			return fmt.Errorf("installing wrapper config: %w", err)
		}
	}
	return nil
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
