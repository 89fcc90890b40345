package domain

import (
	"fmt"
	"strings"
)

// NormalizeCurrency trims and uppercases an ISO-style currency code,
// rejecting anything that is not exactly three letters. An empty input
// falls back to DefaultCurrency.
func NormalizeCurrency(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return DefaultCurrency, nil
	}
	if len(trimmed) != 3 {
		return "", fmt.Errorf("invalid currency code: %q", code)
	}
	for _, r := range trimmed {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency code: %q", code)
		}
	}
	return trimmed, nil
}
