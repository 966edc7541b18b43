package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	yearRegex    = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// ExtractYear extracts a 4-digit year from a release title.
// Returns 0 if no year is found.
func ExtractYear(title string) int {
	matches := yearRegex.FindStringSubmatch(title)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}

// CleanFilename strips characters that are invalid in filenames and folds
// diacritics to their ASCII base so materialized paths stay portable.
func CleanFilename(name string) string {
	folded, _, err := transform.String(foldTransformer(), name)
	if err == nil {
		name = folded
	}
	name = invalidChars.ReplaceAllString(name, "")
	name = multiSpace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

func foldTransformer() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
