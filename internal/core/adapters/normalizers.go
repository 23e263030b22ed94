package adapters

import (
	"strings"

	"github.com/JonMunkholm/ghgledger/internal/core"
)

// granularityAliases maps lowercased granularity labels to a Granularity.
var granularityAliases = map[string]core.Granularity{
	"":         core.GranularityAnnual,
	"annual":   core.GranularityAnnual,
	"annually": core.GranularityAnnual,
	"year":     core.GranularityAnnual,
	"yearly":   core.GranularityAnnual,
	"a":        core.GranularityAnnual,
	"y":        core.GranularityAnnual,
	"month":    core.GranularityMonthly,
	"monthly":  core.GranularityMonthly,
	"m":        core.GranularityMonthly,
}

// NormalizeGranularity resolves a granularity label. Empty means annual.
func NormalizeGranularity(s string) (core.Granularity, bool) {
	g, ok := granularityAliases[strings.ToLower(strings.TrimSpace(s))]
	return g, ok
}

// IsCO2eGas reports whether a gas label denotes a CO2-equivalent total,
// e.g. "co2e", "CO2e_100yr", "co2e 20yr" or "CO₂e". Empty is accepted.
func IsCO2eGas(s string) bool {
	s = strings.ToLower(strings.ReplaceAll(s, "₂", "2"))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	g := b.String()
	switch {
	case g == "":
		return true
	case strings.HasPrefix(g, "co2e"), strings.HasPrefix(g, "tco2e"):
		return true
	case g == "co2equivalent":
		return true
	default:
		return false
	}
}
