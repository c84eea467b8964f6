package schema

import (
	"log"
	"strings"
	"unicode"

	"github.com/mtgsql/mtgsql/pkg/types"
)

// MaxStatusDomain bounds how many distinct values a format column may hold.
// Anything wider cannot be a status enum, allowing for case variants.
const MaxStatusDomain = 16

// NormalizeStatus maps a raw status cell ("Legal", "Not Legal", "banned")
// to its canonical value.
func NormalizeStatus(raw string) (types.LegalityStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	st := types.LegalityStatus(s)
	return st, st.Valid()
}

// NormalizeFormatName derives the canonical lower-case format identifier
// from a column name: "Pauper Commander" and "pauper-commander" become
// "pauper_commander", "oldschool" stays as is.
func NormalizeFormatName(column string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.TrimSpace(column) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		sep = true
	}
	return b.String()
}

// LegalityCandidates returns the text columns of a wide legality relation
// that could hold a format status: everything except the entity key and
// columns the rules already claim as arrays, JSON or blocklisted scalars.
func LegalityCandidates(columns []types.ColumnDescriptor, entityKey string, rules Rules) []string {
	var out []string
	for _, c := range columns {
		if c.Name == entityKey || !isText(c.StorageType) {
			continue
		}
		if rules.IsBlocked(c.Name) || rules.IsBaseline(c.Name) || rules.IsJSON(c.Name) {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

// DiscoverFormatColumns keeps the candidates whose observed values all
// normalise to a legality status. domains maps a candidate to its distinct
// non-null values. A candidate with no values at all is skipped since it
// would contribute no rows. When two columns normalise to the same format
// the first one wins.
func DiscoverFormatColumns(candidates []string, domains map[string][]string) []types.FormatColumn {
	var out []types.FormatColumn
	seen := make(map[string]string)

	for _, col := range candidates {
		values := domains[col]
		if len(values) == 0 || len(values) > MaxStatusDomain {
			continue
		}
		ok := true
		for _, v := range values {
			if _, valid := NormalizeStatus(v); !valid {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		format := NormalizeFormatName(col)
		if format == "" {
			continue
		}
		if prev, dup := seen[format]; dup {
			log.Printf("schema: format column %q duplicates %q as %q, ignoring", col, prev, format)
			continue
		}
		seen[format] = col
		out = append(out, types.FormatColumn{Column: col, Format: format})
	}
	return out
}
