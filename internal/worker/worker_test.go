package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/koji/kojitest"
	"github.com/release-engineering/odcs/internal/mbs/mbstest"
	"github.com/release-engineering/odcs/internal/metrics"
	"github.com/release-engineering/odcs/internal/notify"
	"github.com/release-engineering/odcs/internal/pulp"
	"github.com/release-engineering/odcs/internal/pulp/pulptest"
	"github.com/release-engineering/odcs/internal/resolver"
	"github.com/release-engineering/odcs/internal/reuseindex"
	"github.com/release-engineering/odcs/internal/store"
	"github.com/release-engineering/odcs/internal/store/storetest"
	"github.com/release-engineering/odcs/internal/toolconfig"
	"github.com/release-engineering/odcs/internal/toolrunner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner simulates the external compose tool: it writes an empty RPM
// manifest (or a manifest containing configured packages) and returns a
// canned result/error.
type fakeRunner struct {
	manifestPackages []string
	err              error
}

func (r *fakeRunner) Run(_ context.Context, cfg toolrunner.RunConfig) (*toolrunner.RunResult, error) {
	if r.err != nil {
		stderr := filepath.Join(cfg.WorkDir, "pungi-stderr.log")
		_ = os.WriteFile(stderr, []byte("FATAL: something broke\n"), 0o644)
		return &toolrunner.RunResult{ExitCode: 1, StderrLog: stderr}, r.err
	}

	metadataDir := filepath.Join(cfg.WorkDir, "compose", "Temporary", "metadata")
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return nil, err
	}
	var manifest string
	if len(r.manifestPackages) == 0 {
		manifest = `{"payload":{"rpms":{}}}`
	} else {
		manifest = `{"payload":{"rpms":{"x86_64":{`
		for i, p := range r.manifestPackages {
			if i > 0 {
				manifest += ","
			}
			manifest += `"` + p + `":["` + p + `-1.0-1.x86_64.rpm"]`
		}
		manifest += `}}}}`
	}
	if err := os.WriteFile(filepath.Join(metadataDir, "rpms.json"), []byte(manifest), 0o644); err != nil {
		return nil, err
	}
	return &toolrunner.RunResult{ExitCode: 0}, nil
}

func newTestWorker(t *testing.T, s store.Store, runner toolrunner.Runner, pulpClient pulp.Client) *Worker {
	t.Helper()
	dir := t.TempDir()

	res := resolver.New(kojitest.New(), mbstest.New())
	idx := reuseindex.New(s, kojitest.New())
	notifier := notify.NewNotifier(discardLogger())

	return New(s, res, idx, pulpClient, runner, notifier, metrics.NopRecorder{}, clockwork.NewFakeClock(), discardLogger(), Config{
		Release:     toolconfig.Release{Name: "Fedora", Short: "f", Version: "26"},
		TargetDir:   dir,
		ToolBinary:  "/usr/bin/true",
		ToolTimeout: 0,
	})
}

// localRepoSource creates a minimal repodata/repomd.xml under a fresh temp
// directory and returns the directory path, so repoStrategy.Resolve's
// filesystem fallback can resolve it without any network access.
func localRepoSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repodata := filepath.Join(dir, "repodata")
	if err := os.MkdirAll(repodata, 0o755); err != nil {
		t.Fatalf("mkdir repodata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(`<repomd><revision>42</revision></repomd>`), 0o644); err != nil {
		t.Fatalf("write repomd.xml: %v", err)
	}
	return dir
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

func TestRunToolBasedSucceedsAndWritesRepofile(t *testing.T) {
	s := storetest.New()
	c := claim(t, s, &compose.Compose{SourceType: compose.SourceRepo, Source: localRepoSource(t), Arches: "x86_64"})

	w := newTestWorker(t, s, &fakeRunner{}, pulptest.New())
	if err := w.Run(context.Background(), c.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateDone {
		t.Fatalf("state = %s, want done", got.State)
	}

	paths := got.DerivedPaths(w.cfg.TargetDir, w.cfg.TargetDirURL)
	if _, err := os.Stat(paths.ResultRepofilePath); err != nil {
		t.Fatalf("expected repofile at %s: %v", paths.ResultRepofilePath, err)
	}
}

func TestRunToolBasedFailsOnMissingPackage(t *testing.T) {
	s := storetest.New()
	c := claim(t, s, &compose.Compose{SourceType: compose.SourceRepo, Source: localRepoSource(t), Arches: "x86_64", Packages: "bash vim"})

	w := newTestWorker(t, s, &fakeRunner{manifestPackages: []string{"bash"}}, pulptest.New())
	if err := w.Run(context.Background(), c.ID); err == nil {
		t.Fatal("expected Run to fail when a requested package is missing from the manifest")
	}

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
}

func TestRunToolBasedReusesEquivalentCompose(t *testing.T) {
	s := storetest.New()
	repoSrc := localRepoSource(t)
	first := claim(t, s, &compose.Compose{SourceType: compose.SourceRepo, Source: repoSrc, Arches: "x86_64"})

	w := newTestWorker(t, s, &fakeRunner{}, pulptest.New())
	if err := w.Run(context.Background(), first.ID); err != nil {
		t.Fatalf("Run first: %v", err)
	}

	second := claim(t, s, &compose.Compose{SourceType: compose.SourceRepo, Source: repoSrc, Arches: "x86_64"})

	// A runner that errors on every invocation proves the second run never
	// reaches the tool-invocation branch.
	w2 := newTestWorker(t, s, &fakeRunner{err: context.DeadlineExceeded}, pulptest.New())
	if err := w2.Run(context.Background(), second.ID); err != nil {
		t.Fatalf("Run second (expected reuse, not tool failure): %v", err)
	}

	got, err := s.GetCompose(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateDone {
		t.Fatalf("state = %s, want done", got.State)
	}
	if got.ReusedID == nil || *got.ReusedID != first.ID {
		t.Fatalf("ReusedID = %v, want %d", got.ReusedID, first.ID)
	}
}

func TestRunPulpResolvesContentSets(t *testing.T) {
	s := storetest.New()
	c := claim(t, s, &compose.Compose{SourceType: compose.SourcePulp, Source: "rhel-8-for-x86_64-baseos-rpms"})

	p := pulptest.New()
	p.Register("rhel-8-for-x86_64-baseos-rpms", []pulp.Repository{
		{ContentSet: "rhel-8-for-x86_64-baseos-rpms", Arch: "x86_64", URL: "https://pulp.example.com/content/x86_64/baseos", Sigkeys: []string{"abcd"}, Published: true},
	})

	w := newTestWorker(t, s, &fakeRunner{}, p)
	if err := w.Run(context.Background(), c.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateDone {
		t.Fatalf("state = %s, want done", got.State)
	}
}

func TestRunPulpFailsOnUnknownContentSet(t *testing.T) {
	s := storetest.New()
	c := claim(t, s, &compose.Compose{SourceType: compose.SourcePulp, Source: "unknown-content-set"})

	w := newTestWorker(t, s, &fakeRunner{}, pulptest.New())
	if err := w.Run(context.Background(), c.ID); err == nil {
		t.Fatal("expected Run to fail for an unregistered content-set")
	}

	got, err := s.GetCompose(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetCompose: %v", err)
	}
	if got.State != compose.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
}
