package core

// classifier.go maps free-text sector labels onto the canonical taxonomy.
//
// Resolution order:
//  1. Alias table (confidence 1.0)
//  2. Canonical slug, spaces replaced by underscores (confidence 1.0)
//  3. Nearest canonical slug by edit distance, within a length-scaled threshold
//
// Callers must reject results below MinSectorConfidence.

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// MinSectorConfidence is the lowest classification confidence callers accept.
const MinSectorConfidence = 0.7

// fuzzyConfidenceFloor is the minimum confidence reported for a fuzzy match.
const fuzzyConfidenceFloor = 0.6

// maxFuzzyDistance caps the edit-distance threshold regardless of label length.
const maxFuzzyDistance = 3

// Classification is the result of Classify. An empty Slug means no match.
type Classification struct {
	Slug       string  `json:"slug,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Matched reports whether the classification is usable.
func (c Classification) Matched() bool {
	return c.Slug != "" && c.Confidence >= MinSectorConfidence
}

// Classify resolves a raw sector label to a canonical slug. It is pure and deterministic.
func Classify(raw string) Classification {
	label := normalizeLabel(raw)
	if label == "" {
		return Classification{}
	}

	if slug, ok := sectorAliases[label]; ok {
		return Classification{Slug: slug, Confidence: 1}
	}

	underscored := strings.ReplaceAll(label, " ", "_")
	for _, s := range sectorTaxonomy {
		if s.ID == underscored {
			return Classification{Slug: s.ID, Confidence: 1}
		}
	}

	bestSlug := ""
	bestDist := math.MaxInt
	bestLen := 0
	for _, s := range sectorTaxonomy {
		spaced := strings.ReplaceAll(s.ID, "_", " ")
		d := levenshtein.ComputeDistance(label, spaced)
		if d < bestDist {
			bestSlug = s.ID
			bestDist = d
			bestLen = max(utf8.RuneCountInString(label), utf8.RuneCountInString(spaced))
		}
	}

	threshold := min(maxFuzzyDistance, int(math.Ceil(0.25*float64(bestLen))))
	if bestSlug == "" || bestDist > threshold {
		return Classification{}
	}

	conf := math.Max(fuzzyConfidenceFloor, 1-float64(bestDist)/float64(bestLen))
	return Classification{Slug: bestSlug, Confidence: conf}
}

// normalizeLabel lowercases, collapses every run of non-alphanumerics to a
// single space, and trims.
func normalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
