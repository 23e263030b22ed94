package core

// convert.go provides parsing helpers for raw cell values.
//
// These functions handle the messy reality of third-party exports:
//   - Thousands separators and accounting-style negatives in quantities
//   - Excel formula prefixes (="value") and stray quotes
//   - Years stored as floats by spreadsheet tools ("2021.0")
//   - Timestamps in several ISO-like shapes
//
// All parse functions are strict: they return ok=false rather than guessing.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// yearPrefixRegex captures a leading 4-digit year and optional month from
// values like "2021", "2021-03", "2021-03-01T00:00:00Z" or "2021/03/01".
// Neither may run into further digits, so "20215-01-01" does not match.
var yearPrefixRegex = regexp.MustCompile(`^(\d{4})(?:[-/.](\d{1,2}))?(?:\D|$)`)

// NormalizeHeader converts a raw header cell into the key used in Record maps:
// cleaned, lowercased, with spaces and hyphens folded to underscores.
func NormalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

// CleanCell removes common CSV artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	// Remove leading '='
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	// Remove any surrounding quotes
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// ParseQuantity parses a numeric cell. It accepts thousands separators and
// the accounting negative form "(123.4)". NaN and infinities are rejected.
func ParseQuantity(s string) (float64, bool) {
	s = CleanCell(s)
	if s == "" {
		return 0, false
	}

	// Detect negative accounting format "(123.45)"
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseYearCell parses a standalone year column. Spreadsheet float forms like
// "2021.0" are accepted; anything that is not a 4-digit integer is not.
func ParseYearCell(s string) (int, bool) {
	s = CleanCell(s)
	if s == "" {
		return 0, false
	}
	if y, err := strconv.Atoi(s); err == nil {
		return y, y >= 1000 && y <= 9999
	}
	f, ok := ParseQuantity(s)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	y := int(f)
	return y, y >= 1000 && y <= 9999
}

// ParseMonthCell parses a 1-12 month column. Leading zeros are allowed.
func ParseMonthCell(s string) (int, bool) {
	s = CleanCell(s)
	m, err := strconv.Atoi(s)
	if err != nil {
		f, ok := ParseQuantity(s)
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		m = int(f)
	}
	return m, m >= 1 && m <= 12
}

// YearFromTime extracts the leading 4-digit year from a timestamp string.
func YearFromTime(s string) (int, bool) {
	m := yearPrefixRegex.FindStringSubmatch(CleanCell(s))
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	return y, err == nil
}

// MonthFromTime extracts the two-digit month following the year in a
// timestamp string. The month must be written with two digits and lie in 01-12.
func MonthFromTime(s string) (int, bool) {
	m := yearPrefixRegex.FindStringSubmatch(CleanCell(s))
	if m == nil || len(m[2]) != 2 {
		return 0, false
	}
	mo, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return mo, mo >= 1 && mo <= 12
}

// FirstField returns the value of the first present column among names.
// The second result reports whether any of the columns exists in rec,
// even if its value is empty.
func FirstField(rec Record, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := rec[n]; ok {
			return CleanCell(v), true
		}
	}
	return "", false
}

// HasAnyHeader reports whether any of names is among the normalized headers.
func HasAnyHeader(headers map[string]bool, names ...string) bool {
	for _, n := range names {
		if headers[n] {
			return true
		}
	}
	return false
}

// HeaderSet normalizes raw headers into a lookup set.
func HeaderSet(headers []string) map[string]bool {
	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		if k := NormalizeHeader(h); k != "" {
			set[k] = true
		}
	}
	return set
}

// MatchHeader returns the first of names present in headers, or "".
func MatchHeader(headers map[string]bool, names ...string) string {
	for _, n := range names {
		if headers[n] {
			return n
		}
	}
	return ""
}
