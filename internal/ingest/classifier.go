package ingest

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinPageChars is the stripped-text length below which a PDF page is
// treated as scanned.
const DefaultMinPageChars = 40

// PagesNeedingOCR returns the ascending 1-based indices of pages whose
// locally extracted text, trimmed of surrounding whitespace, is shorter than
// minChars characters. minChars <= 0 selects DefaultMinPageChars.
func PagesNeedingOCR(pages []string, minChars int) []int {
	if minChars <= 0 {
		minChars = DefaultMinPageChars
	}
	var needed []int
	for i, text := range pages {
		if utf8.RuneCountInString(strings.TrimSpace(text)) < minChars {
			needed = append(needed, i+1)
		}
	}
	return needed
}
