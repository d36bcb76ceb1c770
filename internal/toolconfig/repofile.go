package toolconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RepoSection is one `[section]` of a .repo file.
type RepoSection struct {
	ID      string
	Name    string
	BaseURL string // may contain "$basearch"
	Sigkeys []string
}

// WriteRepofile atomically writes one or more repo sections to path (spec.md
// §4.8): a single section for tool-based composes pointing at
// result_repo_url/$basearch/os, or one section per content-set for Pulp
// composes.
func WriteRepofile(path string, sections []RepoSection) error {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "[%s]\n", s.ID)
		fmt.Fprintf(&b, "name=%s\n", s.Name)
		fmt.Fprintf(&b, "baseurl=%s\n", s.BaseURL)
		fmt.Fprintln(&b, "enabled=1")
		if len(s.Sigkeys) > 0 {
			fmt.Fprintln(&b, "gpgcheck=1")
			keys := append([]string{}, s.Sigkeys...)
			sort.Strings(keys)
			fmt.Fprintf(&b, "gpgkey=%s\n", strings.Join(keys, ","))
		} else {
			fmt.Fprintln(&b, "gpgcheck=0")
		}
		b.WriteString("\n")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".repofile-*")
	if err != nil {
		return fmt.Errorf("creating temp repofile: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp repofile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp repofile: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming repofile into place: %w", err)
	}
	return nil
}

// MergeByArch groups per-arch Pulp repository URLs that differ only by arch
// into a single $basearch-templated section, per spec.md §4.6 step 2's
// "group per-arch repositories ... under a common URL pattern when all
// differ only by arch".
func MergeByArch(urlsByArch map[string]string) (merged string, ok bool) {
	if len(urlsByArch) == 0 {
		return "", false
	}
	var arches []string
	for arch := range urlsByArch {
		arches = append(arches, arch)
	}
	sort.Strings(arches)

	first := urlsByArch[arches[0]]
	template := strings.Replace(first, "/"+arches[0]+"/", "/$basearch/", 1)
	if template == first {
		return "", false
	}

	for _, arch := range arches[1:] {
		candidate := strings.Replace(urlsByArch[arch], "/"+arch+"/", "/$basearch/", 1)
		if candidate != template {
			return "", false
		}
	}
	return template, true
}
