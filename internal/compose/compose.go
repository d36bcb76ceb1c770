// Package compose defines the Compose entity: its attributes, state machine,
// bitset flags/results, and the pure derived-path and reuse-key functions
// that every other package in the orchestrator builds on.
package compose

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// SourceType is a tagged variant over the kinds of compose input.
type SourceType string

const (
	SourceModule    SourceType = "module"
	SourceKojiTag   SourceType = "koji_tag"
	SourceRepo      SourceType = "repo"
	SourcePulp      SourceType = "pulp"
	SourceBuild     SourceType = "build"
	SourceRawConfig SourceType = "raw_config"
)

// Valid reports whether t is one of the six known source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceModule, SourceKojiTag, SourceRepo, SourcePulp, SourceBuild, SourceRawConfig:
		return true
	default:
		return false
	}
}

// State is a compose's lifecycle state.
type State string

const (
	StateWait       State = "wait"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateRemoved    State = "removed"
)

// validTransitions enumerates every edge of the state machine in spec.md §3/§8.
var validTransitions = map[State][]State{
	StateWait:       {StateGenerating},
	StateGenerating: {StateDone, StateFailed},
	StateDone:       {StateRemoved},
	StateFailed:     {StateRemoved},
	StateRemoved:    {},
}

// CanTransition reports whether from -> to is a legal edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Flags is a bitset over boolean compose options.
type Flags uint32

const (
	FlagNoDeps Flags = 1 << iota
	FlagNoInheritance
	FlagCheckDeps
	FlagIncludeUnpublishedPulpRepos
)

var orderedFlags = []Flags{FlagNoDeps, FlagNoInheritance, FlagCheckDeps, FlagIncludeUnpublishedPulpRepos}

var flagNames = map[Flags]string{
	FlagNoDeps:                      "no_deps",
	FlagNoInheritance:               "no_inheritance",
	FlagCheckDeps:                   "check_deps",
	FlagIncludeUnpublishedPulpRepos: "include_unpublished_pulp_repos",
}

// Has reports whether bit is set.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Names renders the set bits as their wire-format name list, in declaration order.
func (f Flags) Names() []string {
	var names []string
	for _, bit := range orderedFlags {
		if f.Has(bit) {
			names = append(names, flagNames[bit])
		}
	}
	return names
}

// Results is a bitset over requested output artifacts. ResultRepository is
// always set by Store.CreateCompose regardless of caller input.
type Results uint32

const (
	ResultRepository Results = 1 << iota
	ResultISO
	ResultBootISO
	ResultOSTree
)

var orderedResults = []Results{ResultRepository, ResultISO, ResultBootISO, ResultOSTree}

var resultNames = map[Results]string{
	ResultRepository: "repository",
	ResultISO:        "iso",
	ResultBootISO:    "boot.iso",
	ResultOSTree:     "ostree",
}

// Has reports whether bit is set.
func (r Results) Has(bit Results) bool { return r&bit != 0 }

// Names renders the set bits as their wire-format name list, in declaration order.
func (r Results) Names() []string {
	var names []string
	for _, bit := range orderedResults {
		if r.Has(bit) {
			names = append(names, resultNames[bit])
		}
	}
	return names
}

// Compose is the central orchestration entity described in spec.md §3.
type Compose struct {
	ID    int64
	Owner string

	SourceType SourceType
	Source     string
	Packages   string
	Builds     string
	Sigkeys    string
	Arches     string

	MultilibArches string
	MultilibMethod string

	Flags   Flags
	Results Results

	KojiEvent *int64

	State       State
	StateReason string

	TimeSubmitted time.Time
	TimeDone      *time.Time
	TimeRemoved   *time.Time
	TimeToExpire  time.Time
	RemovedBy     string

	ReusedID       *int64
	KojiTaskID     *int64
	PungiComposeID string
}

// tokens splits a whitespace-separated field into a sorted, deduplicated set.
func tokens(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// NormalizedTokenSet joins a whitespace-separated field's tokens back into a
// canonical sorted, space-separated string, so two fields that only differ by
// token order or duplication compare equal.
func NormalizedTokenSet(s string) string {
	return strings.Join(tokens(s), " ")
}

// ReuseKey is the comparable projection of a compose's inputs used by
// ReuseIndex, per spec.md §4.3's comparison table.
type ReuseKey struct {
	SourceType SourceType
	Source     string // normalized token set
	Packages   string // normalized token set
	Sigkeys    string // normalized token set
	Arches     string // normalized token set
	Flags      Flags
	Results    Results
	KojiEvent  int64 // 0 / ignored for koji_tag, which is compared separately
}

// ReuseKey computes the struct used for structural-equivalence comparison.
// raw_config composes never participate in reuse; callers must check
// Reusable() before using the key.
func (c *Compose) ReuseKey() ReuseKey {
	var event int64
	if c.KojiEvent != nil && c.SourceType != SourceKojiTag {
		event = *c.KojiEvent
	}
	return ReuseKey{
		SourceType: c.SourceType,
		Source:     NormalizedTokenSet(c.Source),
		Packages:   NormalizedTokenSet(c.Packages),
		Sigkeys:    NormalizedTokenSet(c.Sigkeys),
		Arches:     NormalizedTokenSet(c.Arches),
		Flags:      c.Flags,
		Results:    c.Results,
		KojiEvent:  event,
	}
}

// Reusable reports whether this source type ever participates in reuse
// (either as a reuser or as a reuse target).
func (c *Compose) Reusable() bool {
	return c.SourceType != SourceRawConfig && c.SourceType != SourcePulp
}

// Paths holds every on-disk/URL path derived from a compose's identity.
type Paths struct {
	Name               string
	LatestDir          string
	ToplevelDir        string
	ResultRepoDir      string
	ResultRepofilePath string
	TargetDirURL       string
	ResultRepoURL      string
	ResultRepofileURL  string
}

// ownerID returns the id whose directory this compose's output actually
// lives in: its own id, or the id of the compose it reuses.
func (c *Compose) ownerID() int64 {
	if c.ReusedID != nil {
		return *c.ReusedID
	}
	return c.ID
}

// DerivedPaths computes every path named in spec.md §3 "Derived paths" and
// §6 "On-disk layout", as pure functions of the compose's identity and the
// configured target directory / public URL.
func (c *Compose) DerivedPaths(targetDir, targetDirURL string) Paths {
	owner := c.ownerID()
	name := "odcs-" + strconv.FormatInt(owner, 10)
	latestDir := "latest-" + name + "-1"
	toplevel := joinPath(targetDir, latestDir)
	resultRepoDir := joinPath(toplevel, "compose", "Temporary")
	resultRepofile := joinPath(resultRepoDir, name+".repo")

	toplevelURL := joinPath(targetDirURL, latestDir)
	resultRepoURL := joinPath(toplevelURL, "compose", "Temporary")
	resultRepofileURL := joinPath(resultRepoURL, name+".repo")

	return Paths{
		Name:               name,
		LatestDir:          latestDir,
		ToplevelDir:        toplevel,
		ResultRepoDir:      resultRepoDir,
		ResultRepofilePath: resultRepofile,
		TargetDirURL:       targetDirURL,
		ResultRepoURL:      resultRepoURL,
		ResultRepofileURL:  resultRepofileURL,
	}
}

func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSuffix(p, "/")
		if i > 0 {
			p = strings.TrimPrefix(p, "/")
		}
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
