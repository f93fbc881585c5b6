package model

import (
	"math"
	"strconv"
	"strings"
)

// ParseCents converts a decimal price cell to cents.
// Spreadsheet cells arrive as display strings, so currency symbols and
// thousands separators are stripped first.
// Examples: "14.00" → 1400, "$1,234.56" → 123456, "" → 0
func ParseCents(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	// math.Round handles both positive and negative numbers correctly
	return int64(math.Round(f * 100)), true
}

// FormatCents renders cents as a plain decimal string ("42.00").
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + twoDigits(cents%100)
}

func twoDigits(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
