package toolconfig

import (
	"encoding/xml"
	"fmt"
	"os"
)

// variantsDoc is the root element of variants.xml: a single "Temporary"
// variant listing arches and either module references, package groups, or
// both (hybrid), per spec.md §4.7.
type variantsDoc struct {
	XMLName xml.Name       `xml:"variants"`
	Variant variantElement `xml:"variant"`
}

type variantElement struct {
	ID       string        `xml:"id,attr"`
	Name     string        `xml:"name"`
	Type     string        `xml:"type"`
	Arches   archesElement `xml:"arches"`
	Groups   *groupsElement `xml:"groups,omitempty"`
	Modules  *modulesElement `xml:"modules,omitempty"`
}

type archesElement struct {
	Arch []string `xml:"arch"`
}

type groupsElement struct {
	Group []string `xml:"group"`
}

type modulesElement struct {
	Module []string `xml:"module"`
}

// VariantsParams parameterizes variants.xml generation.
type VariantsParams struct {
	Arches  []string
	Groups  []string // odcs-group, omitted for module-only composes
	Modules []string // module NSVCs, present for module composes
}

// RenderVariants writes variants.xml to path.
func RenderVariants(path string, p VariantsParams) error {
	doc := variantsDoc{
		Variant: variantElement{
			ID:     "Temporary",
			Name:   "Temporary",
			Type:   "variant",
			Arches: archesElement{Arch: p.Arches},
		},
	}
	if len(p.Groups) > 0 {
		doc.Variant.Groups = &groupsElement{Group: p.Groups}
	}
	if len(p.Modules) > 0 {
		doc.Variant.Modules = &modulesElement{Module: p.Modules}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling variants.xml: %w", err)
	}
	out = append([]byte(xml.Header), out...)

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
