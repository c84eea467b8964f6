package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mtgsql/mtgsql/pkg/types"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want types.LegalityStatus
		ok   bool
	}{
		{"Legal", types.StatusLegal, true},
		{"legal", types.StatusLegal, true},
		{" Not Legal ", types.StatusNotLegal, true},
		{"not-legal", types.StatusNotLegal, true},
		{"Banned", types.StatusBanned, true},
		{"Restricted", types.StatusRestricted, true},
		{"Suspended", types.StatusSuspended, true},
		{"Mythic", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeStatus(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %q", tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got, "raw %q", tt.raw)
		}
	}
}

func TestNormalizeFormatName(t *testing.T) {
	assert.Equal(t, "modern", NormalizeFormatName("modern"))
	assert.Equal(t, "paupercommander", NormalizeFormatName("PauperCommander"))
	assert.Equal(t, "pauper_commander", NormalizeFormatName("Pauper Commander"))
	assert.Equal(t, "pauper_commander", NormalizeFormatName("pauper-commander"))
	assert.Equal(t, "", NormalizeFormatName("--"))
}

func TestLegalityCandidates(t *testing.T) {
	cols := []types.ColumnDescriptor{
		{Name: "uuid", StorageType: "VARCHAR"},
		{Name: "modern", StorageType: "VARCHAR"},
		{Name: "standard", StorageType: "VARCHAR"},
		{Name: "status", StorageType: "VARCHAR"},
		{Name: "colors", StorageType: "VARCHAR"},
		{Name: "edhrecRank", StorageType: "INTEGER"},
	}
	got := LegalityCandidates(cols, "uuid", DefaultRules("cards"))
	assert.Equal(t, []string{"modern", "standard"}, got)
}

func TestDiscoverFormatColumns(t *testing.T) {
	candidates := []string{"modern", "standard", "pioneer", "setCode", "empty", "Modern"}
	domains := map[string][]string{
		"modern":   {"Legal", "Banned"},
		"standard": {"Not Legal", "Legal"},
		"pioneer":  {"Restricted"},
		"setCode":  {"MH3", "Legal"},
		"Modern":   {"Legal"},
	}
	got := DiscoverFormatColumns(candidates, domains)
	assert.Equal(t, []types.FormatColumn{
		{Column: "modern", Format: "modern"},
		{Column: "standard", Format: "standard"},
		{Column: "pioneer", Format: "pioneer"},
	}, got)
}

func TestDiscoverFormatColumns_NewFormatPickedUp(t *testing.T) {
	got := DiscoverFormatColumns([]string{"timeless"}, map[string][]string{"timeless": {"Legal"}})
	assert.Equal(t, []types.FormatColumn{{Column: "timeless", Format: "timeless"}}, got)
}

func TestValidateIdentifier(t *testing.T) {
	assert.True(t, ValidateIdentifier("colorIdentity"))
	assert.True(t, ValidateIdentifier("_x1"))
	assert.False(t, ValidateIdentifier(""))
	assert.False(t, ValidateIdentifier("1abc"))
	assert.False(t, ValidateIdentifier(`name"; DROP TABLE cards; --`))
	assert.False(t, ValidateIdentifier("set code"))
}
