package toolconfig

import (
	"encoding/xml"
	"fmt"
	"os"
)

// compsDoc is a minimal comps.xml containing a single "odcs-group" with the
// requested packages (spec.md §4.7). It is written whenever the compose lists
// packages, including a module compose that also lists packages (hybrid),
// and omitted when there are none.
type compsDoc struct {
	XMLName xml.Name     `xml:"comps"`
	Group   compsGroup   `xml:"group"`
}

type compsGroup struct {
	ID          string          `xml:"id"`
	Name        string          `xml:"name"`
	Description string          `xml:"description"`
	Default     bool            `xml:"default"`
	Uservisible bool            `xml:"uservisible"`
	PackageList compsPackageList `xml:"packagelist"`
}

type compsPackageList struct {
	Package []compsPackage `xml:"packagereq"`
}

type compsPackage struct {
	Type string `xml:"type,attr"`
	Name string `xml:",chardata"`
}

// RenderComps writes comps.xml listing packages under a single odcs-group.
// Callers must skip calling this for module-source composes with no
// packages.
func RenderComps(path string, packages []string) error {
	pkgs := make([]compsPackage, len(packages))
	for i, p := range packages {
		pkgs[i] = compsPackage{Type: "mandatory", Name: p}
	}

	doc := compsDoc{
		Group: compsGroup{
			ID:          "odcs-group",
			Name:        "odcs-group",
			Description: "Packages requested for this ODCS compose",
			Default:     true,
			Uservisible: true,
			PackageList: compsPackageList{Package: pkgs},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling comps.xml: %w", err)
	}
	out = append([]byte(xml.Header), out...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
