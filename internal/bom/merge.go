package bom

import (
	"strconv"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// Merge folds other into dst: components, dependencies and properties of
// other are appended, skipping entries dst already contains. Identity is the
// BOM ref when set, otherwise the component name plus its first evidence
// occurrence. Folding a set of fragments in any fixed order yields the same
// final set of components.
func Merge(dst, other *cdx.BOM) *cdx.BOM {
	if dst == nil {
		return other
	}
	if other == nil {
		return dst
	}

	seen := make(map[string]struct{})
	for _, c := range components(dst) {
		seen[componentKey(c)] = struct{}{}
	}
	for _, c := range components(other) {
		key := componentKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		appendComponent(dst, c)
	}

	if other.Dependencies != nil {
		deps := []cdx.Dependency{}
		if dst.Dependencies != nil {
			deps = *dst.Dependencies
		}
		known := make(map[string]struct{}, len(deps))
		for _, d := range deps {
			known[d.Ref] = struct{}{}
		}
		for _, d := range *other.Dependencies {
			if _, ok := known[d.Ref]; ok {
				continue
			}
			deps = append(deps, d)
		}
		dst.Dependencies = &deps
	}

	if other.Properties != nil {
		props := []cdx.Property{}
		if dst.Properties != nil {
			props = *dst.Properties
		}
		props = append(props, *other.Properties...)
		dst.Properties = &props
	}

	return dst
}

func components(bom *cdx.BOM) []cdx.Component {
	if bom.Components == nil {
		return nil
	}
	return *bom.Components
}

func appendComponent(bom *cdx.BOM, c cdx.Component) {
	if bom.Components == nil {
		bom.Components = &[]cdx.Component{}
	}
	*bom.Components = append(*bom.Components, c)
}

func componentKey(c cdx.Component) string {
	if c.BOMRef != "" {
		return c.BOMRef
	}
	key := string(c.Type) + "|" + c.Name
	if c.Evidence != nil && c.Evidence.Occurrences != nil && len(*c.Evidence.Occurrences) > 0 {
		occ := (*c.Evidence.Occurrences)[0]
		key += "|" + occ.Location
		if occ.Line != nil {
			key += "|" + strconv.Itoa(*occ.Line)
		}
	}
	return key
}
