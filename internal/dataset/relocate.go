package dataset

import "github.com/sells-group/vmt-browser/internal/registry"

// RelocateToEnd returns a copy of features with the feature for id moved to
// the tail. Every other feature keeps its relative order. When id is absent
// the copy is returned unchanged. The input slice is never modified.
func RelocateToEnd(features []*EnrichedFeature, id registry.MunicipalityID) []*EnrichedFeature {
	out := make([]*EnrichedFeature, 0, len(features))
	var target *EnrichedFeature
	for _, f := range features {
		if target == nil && f.ID == id {
			target = f
			continue
		}
		out = append(out, f)
	}
	if target != nil {
		out = append(out, target)
	}
	return out
}
