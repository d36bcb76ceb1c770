package resolver

import (
	"context"
	"testing"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/koji/kojitest"
	"github.com/release-engineering/odcs/internal/mbs"
	"github.com/release-engineering/odcs/internal/mbs/mbstest"
)

func TestKojiTagResolvePinsCurrentEvent(t *testing.T) {
	fake := kojitest.New()
	fake.Event = 42
	r := New(fake, mbstest.New())

	c := &compose.Compose{SourceType: compose.SourceKojiTag, Source: "f26"}
	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.KojiEvent == nil || *c.KojiEvent != 42 {
		t.Errorf("KojiEvent = %v, want 42", c.KojiEvent)
	}
}

func TestKojiTagResolvePreservesExistingEventOnResurrection(t *testing.T) {
	fake := kojitest.New()
	fake.Event = 99
	r := New(fake, mbstest.New())

	existing := int64(7)
	c := &compose.Compose{SourceType: compose.SourceKojiTag, Source: "f26", KojiEvent: &existing}
	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *c.KojiEvent != 7 {
		t.Errorf("KojiEvent = %d, want preserved 7", *c.KojiEvent)
	}
	if fake.CurrentCalls != 0 {
		t.Errorf("expected CurrentEvent not to be called, got %d calls", fake.CurrentCalls)
	}
}

func TestModuleResolveExpandsAndSorts(t *testing.T) {
	fakeMBS := mbstest.New()
	fakeMBS.Register("moduleB", &mbs.Module{NSVC: mbs.NSVC{Name: "moduleB", Stream: "f26", Version: "2", Context: "abc"}})
	fakeMBS.Register("moduleA", &mbs.Module{NSVC: mbs.NSVC{Name: "moduleA", Stream: "f26", Version: "1", Context: "abc"}})

	r := New(kojitest.New(), fakeMBS)
	c := &compose.Compose{SourceType: compose.SourceModule, Source: "moduleB moduleA", Flags: compose.FlagNoDeps}

	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "moduleA:f26:1:abc moduleB:f26:2:abc"
	if c.Source != want {
		t.Errorf("Source = %q, want %q", c.Source, want)
	}
}

func TestModuleResolveExpandsDependencies(t *testing.T) {
	fakeMBS := mbstest.New()
	fakeMBS.Register("app", &mbs.Module{
		NSVC:     mbs.NSVC{Name: "app", Stream: "f26", Version: "1", Context: "aaa"},
		Requires: []mbs.NSVC{{Name: "platform", Stream: "f26"}},
	})
	fakeMBS.Register("platform:f26", &mbs.Module{NSVC: mbs.NSVC{Name: "platform", Stream: "f26", Version: "1", Context: "bbb"}})
	fakeMBS.Register("platform", &mbs.Module{NSVC: mbs.NSVC{Name: "platform", Stream: "f26", Version: "1", Context: "bbb"}})

	r := New(kojitest.New(), fakeMBS)
	c := &compose.Compose{SourceType: compose.SourceModule, Source: "app"}

	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "app:f26:1:aaa platform:f26:1:bbb"
	if c.Source != want {
		t.Errorf("Source = %q, want %q", c.Source, want)
	}
}

func TestModuleResolveNoDepsSkipsExpansion(t *testing.T) {
	fakeMBS := mbstest.New()
	fakeMBS.Register("app", &mbs.Module{
		NSVC:     mbs.NSVC{Name: "app", Stream: "f26", Version: "1", Context: "aaa"},
		Requires: []mbs.NSVC{{Name: "platform", Stream: "f26"}},
	})

	r := New(kojitest.New(), fakeMBS)
	c := &compose.Compose{SourceType: compose.SourceModule, Source: "app", Flags: compose.FlagNoDeps}

	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "app:f26:1:aaa"
	if c.Source != want {
		t.Errorf("Source = %q, want %q", c.Source, want)
	}
}

func TestModuleResolveResolvesDevelCounterpart(t *testing.T) {
	fakeMBS := mbstest.New()
	fakeMBS.Register("app", &mbs.Module{NSVC: mbs.NSVC{Name: "app", Stream: "f26", Version: "1", Context: "aaa"}})
	fakeMBS.Register("app-devel", &mbs.Module{NSVC: mbs.NSVC{Name: "app-devel", Stream: "f26", Version: "1", Context: "aaa"}})

	r := New(kojitest.New(), fakeMBS)
	c := &compose.Compose{SourceType: compose.SourceModule, Source: "app", Flags: compose.FlagNoDeps}

	if err := r.Resolve(context.Background(), c); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "app-devel:f26:1:aaa app:f26:1:aaa"
	if c.Source != want {
		t.Errorf("Source = %q, want %q", c.Source, want)
	}
}

func TestModuleResolveCycleIsResolutionError(t *testing.T) {
	moduleB := &mbs.Module{NSVC: mbs.NSVC{Name: "b", Stream: "s", Version: "1", Context: "c"}, Requires: []mbs.NSVC{{Name: "a", Stream: "s"}}}

	fakeMBS := mbstest.New()
	fakeMBS.Register("a", &mbs.Module{NSVC: mbs.NSVC{Name: "a", Stream: "s", Version: "1", Context: "c"}, Requires: []mbs.NSVC{{Name: "b", Stream: "s"}}})
	fakeMBS.Register("b:s", moduleB)
	fakeMBS.Register("b", moduleB)

	r := New(kojitest.New(), fakeMBS)
	c := &compose.Compose{SourceType: compose.SourceModule, Source: "a"}

	err := r.Resolve(context.Background(), c)
	if err == nil {
		t.Fatal("expected a cycle to surface as an error")
	}
}

func TestRawConfigResolveRequiresCommitSuffix(t *testing.T) {
	r := New(kojitest.New(), mbstest.New())
	c := &compose.Compose{SourceType: compose.SourceRawConfig, Source: "myconfig"}

	if err := r.Resolve(context.Background(), c); err == nil {
		t.Error("expected an error for a raw_config source missing #commit")
	}

	c.Source = "myconfig#abc123"
	if err := r.Resolve(context.Background(), c); err != nil {
		t.Errorf("unexpected error for valid raw_config source: %v", err)
	}
}

func TestPulpAndBuildResolveAreNoOps(t *testing.T) {
	r := New(kojitest.New(), mbstest.New())

	pulpCompose := &compose.Compose{SourceType: compose.SourcePulp, Source: "rhel-7-server-rpms"}
	if err := r.Resolve(context.Background(), pulpCompose); err != nil {
		t.Errorf("pulp Resolve: %v", err)
	}
	if pulpCompose.Source != "rhel-7-server-rpms" {
		t.Errorf("pulp Source mutated to %q", pulpCompose.Source)
	}

	buildCompose := &compose.Compose{SourceType: compose.SourceBuild, Source: "foo-1.0-1"}
	if err := r.Resolve(context.Background(), buildCompose); err != nil {
		t.Errorf("build Resolve: %v", err)
	}
}
