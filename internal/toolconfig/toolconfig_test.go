package toolconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/release-engineering/odcs/internal/compose"
)

func TestResolveGatherMethod(t *testing.T) {
	cases := []struct {
		name string
		c    *compose.Compose
		want GatherMethod
	}{
		{"module only", &compose.Compose{SourceType: compose.SourceModule}, gatherModule},
		{"module with packages is hybrid", &compose.Compose{SourceType: compose.SourceModule, Packages: "bash"}, gatherHybrid},
		{"repo", &compose.Compose{SourceType: compose.SourceRepo}, gatherComps},
	}
	for _, c := range cases {
		if got := ResolveGatherMethod(c.c); got != c.want {
			t.Errorf("%s: ResolveGatherMethod = %+v, want %+v", c.name, got, c.want)
		}
	}
}

func TestRenderMainConfigSkipsPhasesPerResults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.conf")

	c := &compose.Compose{
		SourceType: compose.SourceRepo,
		Sigkeys:    "abcd",
		Arches:     "x86_64",
		Results:    compose.ResultRepository,
	}
	params := ParamsFor(c, Release{Name: "Fedora", Short: "f", Version: "26"}, nil)

	if err := RenderMainConfig(path, params); err != nil {
		t.Fatalf("RenderMainConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading rendered config: %v", err)
	}
	rendered := string(data)

	if !strings.Contains(rendered, `skip_phases = skip_phases + ["createiso"]`) {
		t.Error("expected createiso to be skipped when ResultISO not requested")
	}
	if !strings.Contains(rendered, `skip_phases = skip_phases + ["buildinstall"]`) {
		t.Error("expected buildinstall to be skipped when ResultBootISO not requested")
	}
}

func TestRenderMainConfigIncludesISOWhenRequested(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.conf")

	c := &compose.Compose{
		SourceType: compose.SourceRepo,
		Results:    compose.ResultRepository | compose.ResultISO,
	}
	params := ParamsFor(c, Release{Short: "f"}, nil)
	if err := RenderMainConfig(path, params); err != nil {
		t.Fatalf("RenderMainConfig: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), `skip_phases = skip_phases + ["createiso"]`) {
		t.Error("did not expect createiso to be skipped when ResultISO is requested")
	}
}

func TestComposeIDFormat(t *testing.T) {
	ci := ComposeInfo{Release: Release{Short: "f", Version: "26"}, Date: "20160101", Respin: 3}
	want := "f-26-20160101.n.3"
	if got := ci.ComposeID(); got != want {
		t.Errorf("ComposeID = %q, want %q", got, want)
	}
}

func TestRenderVariantsOmitsGroupsForPureModule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "variants.xml")
	if err := RenderVariants(path, VariantsParams{Arches: []string{"x86_64"}, Modules: []string{"platform:f26:1:abc"}}); err != nil {
		t.Fatalf("RenderVariants: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "<groups>") {
		t.Error("did not expect a <groups> element for a pure module compose")
	}
	if !strings.Contains(string(data), "platform:f26:1:abc") {
		t.Error("expected module NSVC to appear in variants.xml")
	}
}

func TestWriteRepofileToolBased(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odcs-1.repo")

	err := WriteRepofile(path, []RepoSection{{
		ID:      "odcs-1",
		Name:    "odcs-1",
		BaseURL: "https://example.com/composes/latest-odcs-1-1/compose/Temporary/$basearch/os",
		Sigkeys: []string{"abcd"},
	}})
	if err != nil {
		t.Fatalf("WriteRepofile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "[odcs-1]") {
		t.Error("expected a [odcs-1] section")
	}
	if !strings.Contains(string(data), "gpgkey=abcd") {
		t.Error("expected gpgkey line")
	}
}

func TestMergeByArchDetectsCommonPattern(t *testing.T) {
	urls := map[string]string{
		"x86_64":  "https://pulp.example.com/content/x86_64/repo",
		"aarch64": "https://pulp.example.com/content/aarch64/repo",
	}
	merged, ok := MergeByArch(urls)
	if !ok {
		t.Fatal("expected a common $basearch pattern to be found")
	}
	if merged != "https://pulp.example.com/content/$basearch/repo" {
		t.Errorf("merged = %q", merged)
	}
}

func TestMergeByArchRejectsDivergentURLs(t *testing.T) {
	urls := map[string]string{
		"x86_64":  "https://pulp.example.com/content/x86_64/repo",
		"aarch64": "https://other.example.com/content/aarch64/repo",
	}
	if _, ok := MergeByArch(urls); ok {
		t.Error("expected divergent URLs not to merge")
	}
}
