package utils

import "strings"

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ParseSymbols parses a comma-separated ticker list, upper-casing each
// symbol and dropping repeats while keeping first-seen order.
func ParseSymbols(s string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, v := range ParseCSV(s) {
		symbol := strings.ToUpper(v)
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	return symbols
}
