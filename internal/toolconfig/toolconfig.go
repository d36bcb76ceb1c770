// Package toolconfig renders the three files the Worker materializes in a
// compose's working directory before invoking the external compose tool
// (spec.md §4.7): the tool's main configuration, a variants XML, and a
// comps XML. It also computes the ComposeInfo identifying a run and writes
// the per-compose repo-file artifact (spec.md §4.8).
package toolconfig

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/release-engineering/odcs/internal/compose"
)

// Release identifies the product release a compose is generated against —
// configuration the Worker supplies, not carried on the Compose itself.
type Release struct {
	Name    string
	Short   string
	Version string
}

// GatherMethod names the main-config gather source/method pairing spec.md
// §4.7 picks between: "comps"/"deps" for every non-module compose,
// "module"/"nodeps" for module composes without packages, "comps"/"hybrid"
// for module composes that also list packages. Koji tags are not inspected
// for modular content, so a koji_tag compose always gets "comps"/"deps".
type GatherMethod struct {
	Source string
	Method string
}

var (
	gatherComps  = GatherMethod{Source: "comps", Method: "deps"}
	gatherModule = GatherMethod{Source: "module", Method: "nodeps"}
	gatherHybrid = GatherMethod{Source: "comps", Method: "hybrid"}
)

// ResolveGatherMethod picks the gather source/method pairing for c.
func ResolveGatherMethod(c *compose.Compose) GatherMethod {
	switch c.SourceType {
	case compose.SourceModule:
		if strings.TrimSpace(c.Packages) != "" {
			return gatherHybrid
		}
		return gatherModule
	default:
		return gatherComps
	}
}

// MainConfigParams parameterizes the main configuration template.
type MainConfigParams struct {
	Release       Release
	Sigkeys       []string
	Arches        []string
	Gather        GatherMethod
	Inherit       bool
	SkipCreateISO bool
	SkipBuildinstall bool
	MultilibArches   []string
	MultilibMethod   string
	CheckDeps        bool
	LookasideRepos   []string
}

// ParamsFor derives MainConfigParams from a resolved compose.
func ParamsFor(c *compose.Compose, release Release, lookasideRepos []string) MainConfigParams {
	return MainConfigParams{
		Release:          release,
		Sigkeys:          fields(c.Sigkeys),
		Arches:           fields(c.Arches),
		Gather:           ResolveGatherMethod(c),
		Inherit:          !c.Flags.Has(compose.FlagNoInheritance),
		SkipCreateISO:    !c.Results.Has(compose.ResultISO),
		SkipBuildinstall: !c.Results.Has(compose.ResultBootISO),
		MultilibArches:   fields(c.MultilibArches),
		MultilibMethod:   c.MultilibMethod,
		CheckDeps:        c.Flags.Has(compose.FlagCheckDeps),
		LookasideRepos:   lookasideRepos,
	}
}

func fields(s string) []string {
	f := strings.Fields(s)
	sort.Strings(f)
	return f
}

const mainConfigTemplate = `# generated by odcsd, do not edit
release_name = "{{ .Release.Name }}"
release_short = "{{ .Release.Short }}"
release_version = "{{ .Release.Version }}"

sigkeys = [{{ range $i, $k := .Sigkeys }}{{ if $i }}, {{ end }}"{{ $k }}"{{ end }}]
arches = [{{ range $i, $a := .Arches }}{{ if $i }}, {{ end }}"{{ $a }}"{{ end }}]

gather_source = "{{ .Gather.Source }}"
gather_method = "{{ .Gather.Method }}"
inherit = {{ if .Inherit }}True{{ else }}False{{ end }}
check_deps = {{ if .CheckDeps }}True{{ else }}False{{ end }}

{{ if .SkipCreateISO }}skip_phases = skip_phases + ["createiso"]
{{ end -}}
{{ if .SkipBuildinstall }}skip_phases = skip_phases + ["buildinstall"]
{{ end -}}
{{ if .MultilibArches }}multilib_arches = [{{ range $i, $a := .MultilibArches }}{{ if $i }}, {{ end }}"{{ $a }}"{{ end }}]
multilib_method = "{{ .MultilibMethod }}"
{{ end -}}
{{ range .LookasideRepos }}lookaside_repos = lookaside_repos + ["{{ . }}"]
{{ end -}}
`

var mainConfigTmpl = template.Must(template.New("main.conf").Parse(mainConfigTemplate))

// RenderMainConfig writes the rendered main configuration to path.
func RenderMainConfig(path string, p MainConfigParams) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating main config %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := mainConfigTmpl.Execute(f, p); err != nil {
		return fmt.Errorf("rendering main config %s: %w", path, err)
	}
	return nil
}

// ComposeInfo identifies one tool invocation: the release, the run date, and
// a respin counter that disambiguates repeated runs on the same date
// (spec.md §4.7).
type ComposeInfo struct {
	Release Release
	Date    string // YYYYMMDD
	Respin  int
}

// ComposeID renders the canonical compose id string used in directory
// naming: "<release_short>-<release_version>-<date>.n.<respin>".
func (ci ComposeInfo) ComposeID() string {
	return ci.Release.Short + "-" + ci.Release.Version + "-" + ci.Date + ".n." + strconv.Itoa(ci.Respin)
}
