package schema

import (
	"strings"
	"unicode"
)

// FalsePlurals are singular nouns that end in s without matching one of the
// singular suffix rules below.
var FalsePlurals = map[string]struct{}{
	"alias":       {},
	"always":      {},
	"atlas":       {},
	"bias":        {},
	"canvas":      {},
	"chaos":       {},
	"cosmos":      {},
	"does":        {},
	"economics":   {},
	"ethos":       {},
	"gas":         {},
	"has":         {},
	"lens":        {},
	"mathematics": {},
	"news":        {},
	"physics":     {},
	"series":      {},
	"species":     {},
	"was":         {},
	"whereas":     {},
	"yes":         {},
}

// IrregularPlurals are plural nouns that do not end in s.
var IrregularPlurals = map[string]struct{}{
	"appendices": {},
	"children":   {},
	"criteria":   {},
	"feet":       {},
	"geese":      {},
	"indices":    {},
	"matrices":   {},
	"mice":       {},
	"people":     {},
	"teeth":      {},
	"vertices":   {},
}

// singularSuffixes end in s but mark a singular noun: class, status, axis.
var singularSuffixes = []string{"ss", "us", "is"}

// IsPluralNoun reports whether the last word of a camelCase or snake_case
// column name reads as an English plural.
func IsPluralNoun(column string) bool {
	w := lastWord(column)
	if len(w) < 3 {
		return false
	}
	if _, ok := IrregularPlurals[w]; ok {
		return true
	}
	if !strings.HasSuffix(w, "s") {
		return false
	}
	if _, ok := FalsePlurals[w]; ok {
		return false
	}
	for _, suf := range singularSuffixes {
		if strings.HasSuffix(w, suf) {
			return false
		}
	}
	return true
}

// lastWord returns the final word of column, lower-cased.
// "otherFaceIds" -> "ids", "promo_types" -> "types", "URLs" -> "urls".
func lastWord(column string) string {
	column = strings.TrimRight(column, "_")
	if i := strings.LastIndexAny(column, "_- ."); i >= 0 {
		column = column[i+1:]
	}
	runes := []rune(column)
	start := 0
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsUpper(runes[i]) && !unicode.IsUpper(runes[i-1]) {
			start = i
			break
		}
	}
	return strings.ToLower(string(runes[start:]))
}
