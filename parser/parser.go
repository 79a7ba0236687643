// Package parser extracts raw bank records from the rendered list page.
package parser

import (
	"strings"
	"unicode"
)

// NormalizeAmount removes digit-grouping characters and surrounding whitespace.
func NormalizeAmount(amount string) string {
	return strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, amount)
}
