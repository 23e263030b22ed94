package core

import (
	"fmt"
	"strings"
)

// massFactors maps normalized unit labels to their multiplier into tonnes CO2e.
// The empty unit is treated as tonnes.
var massFactors = map[string]float64{
	"":              1,
	"t":             1,
	"tonne":         1,
	"tonnes":        1,
	"ton":           1,
	"tons":          1,
	"metric ton":    1,
	"metric tons":   1,
	"metric tonne":  1,
	"metric tonnes": 1,
	"tco2e":         1,
	"t co2e":        1,
	"tco2":          1,
	"t co2":         1,
	"tonne co2e":    1,
	"tonnes co2e":   1,
	"tonnes co2":    1,

	"kt":              1e3,
	"kilotonne":       1e3,
	"kilotonnes":      1e3,
	"kiloton":         1e3,
	"kilotons":        1e3,
	"ktco2e":          1e3,
	"kt co2e":         1e3,
	"kilotonnes co2e": 1e3,

	"mt":              1e6,
	"megatonne":       1e6,
	"megatonnes":      1e6,
	"megaton":         1e6,
	"megatons":        1e6,
	"mtco2e":          1e6,
	"mt co2e":         1e6,
	"megatonnes co2e": 1e6,
}

// ToCanonicalMass converts quantity expressed in unit into tonnes CO2e.
// Units outside the whitelist fail with ErrUnsupportedUnit; nothing is guessed.
func ToCanonicalMass(quantity float64, unit string) (float64, error) {
	factor, ok := massFactors[normalizeUnit(unit)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedUnit, unit)
	}
	return quantity * factor, nil
}

// normalizeUnit lowercases, strips subscript digits and collapses whitespace.
func normalizeUnit(unit string) string {
	unit = strings.ToLower(strings.TrimSpace(unit))
	unit = strings.NewReplacer("₂", "2", "-", " ", "_", " ").Replace(unit)
	return strings.Join(strings.Fields(unit), " ")
}
