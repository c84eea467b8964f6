package schema

import "strings"

// MaxIdentifierLength bounds column and relation names.
const MaxIdentifierLength = 128

// ValidateIdentifier checks that name is a plain identifier: a letter or
// underscore followed by letters, digits or underscores. Names that pass
// are safe to embed double-quoted in query text.
func ValidateIdentifier(name string) bool {
	if len(name) == 0 || len(name) > MaxIdentifierLength {
		return false
	}
	// First character must be a letter or underscore
	first := name[0]
	if (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') && first != '_' {
		return false
	}
	// Subsequent characters can be letters, digits, or underscores
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// QuoteIdentifier double-quotes a validated identifier.
func QuoteIdentifier(name string) string {
	return `"` + name + `"`
}

// QuoteCatalogIdentifier quotes a name read from the engine catalog, which
// may contain spaces or quotes, by doubling embedded quotes.
func QuoteCatalogIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
