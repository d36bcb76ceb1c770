package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// rpmManifest is the subset of the external tool's output RPM manifest the
// Worker needs: the set of built package (base) names per architecture,
// excluding the "src" arch, matching spec.md §4.6 step 3d's "every
// requested package name appears at least once in non-source outputs".
type rpmManifest struct {
	Payload struct {
		RPMs map[string]map[string][]string `json:"rpms"` // arch -> package name -> list of NEVRAs
	} `json:"payload"`
}

// validatePackageManifest reads the manifest the tool wrote at manifestPath
// and ensures every name in requested shows up in at least one non-"src"
// arch. A missing manifest file is itself a validation failure: the tool is
// expected to always produce one on success.
func validatePackageManifest(manifestPath string, requested []string) error {
	if len(requested) == 0 {
		return nil
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading rpm manifest %s: %w", manifestPath, err)
	}

	var manifest rpmManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing rpm manifest %s: %w", manifestPath, err)
	}

	present := make(map[string]struct{})
	for arch, pkgs := range manifest.Payload.RPMs {
		if arch == "src" {
			continue
		}
		for name := range pkgs {
			present[name] = struct{}{}
		}
	}

	var missing []string
	for _, name := range requested {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("packages missing from non-source outputs: %v", missing)
	}
	return nil
}
