package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPluralNoun(t *testing.T) {
	tests := []struct {
		column string
		plural bool
	}{
		{"keywords", true},
		{"types", true},
		{"otherFaceIds", true},
		{"promo_types", true},
		{"abilities", true},
		{"boxes", true},
		{"URLs", true},
		{"children", true},
		{"rarity", false},
		{"colorIdentity", false},
		{"power", false},
		{"status", false},
		{"bonus", false},
		{"class", false},
		{"axis", false},
		{"analysis", false},
		{"series", false},
		{"news", false},
		{"lens", false},
		{"alias", false},
		{"canvas", false},
		{"hasFoils", true},
		{"is", false},
		{"", false},
		{"s", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.plural, IsPluralNoun(tt.column), "column %q", tt.column)
	}
}

func TestLastWord(t *testing.T) {
	assert.Equal(t, "ids", lastWord("artistIds"))
	assert.Equal(t, "types", lastWord("promo_types"))
	assert.Equal(t, "keywords", lastWord("keywords"))
	assert.Equal(t, "urls", lastWord("purchaseURLs"))
	assert.Equal(t, "identity", lastWord("colorIdentity"))
}

func TestExceptionListsDisjoint(t *testing.T) {
	for w := range FalsePlurals {
		_, irregular := IrregularPlurals[w]
		assert.False(t, irregular, "%q is listed as both singular and plural", w)
	}
}
