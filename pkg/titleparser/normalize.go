package titleparser

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeTitle applies NFC normalization to a raw title before it enters
// the rule pipeline, so a combining-diacritic "é" (e + combining acute) and
// its precomposed form match the same patterns a plain ASCII title would.
// Case is deliberately left alone here: rule patterns are already
// case-insensitive ((?i)), and several fields (group, site) must preserve
// the title's original casing in their output.
func normalizeTitle(raw string) string {
	return norm.NFC.String(raw)
}

// foldCase is Unicode-aware case folding, used by the lowercase transform
// (the resolution fallback and site rules) instead of the ASCII-only
// strings.ToLower, so accented variants fold consistently too.
var foldCase = cases.Fold()
