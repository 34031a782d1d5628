package timeline

import (
	"sort"

	"github.com/stemsi/mocktest-backend/internal/model"
)

// canonicalRank is the presentation order every participant shares.
// Unknown section types sort after the known ones.
var canonicalRank = map[model.SectionType]int{
	model.SectionListening: 0,
	model.SectionReading:   1,
	model.SectionWriting:   2,
}

// Rank returns the canonical position of a section type.
func Rank(t model.SectionType) int {
	if r, ok := canonicalRank[t]; ok {
		return r
	}
	return len(canonicalRank)
}

// OrderSections returns a copy of sections in canonical order. The stored
// order index only breaks ties between sections of equal rank.
func OrderSections(sections []model.Section) []model.Section {
	out := make([]model.Section, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := Rank(out[i].Type), Rank(out[j].Type)
		if ri != rj {
			return ri < rj
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}
