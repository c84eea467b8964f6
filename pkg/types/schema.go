package types

import "strings"

// ColumnDescriptor describes one column of a raw artifact as reported by
// the engine. It is produced once per artifact load and never mutated.
type ColumnDescriptor struct {
	// Name is the column name as it appears in the artifact
	Name string `json:"name"`

	// StorageType is the engine's declared type, e.g. VARCHAR or VARCHAR[]
	StorageType string `json:"storage_type"`

	// Nested is true when observed values are containers (LIST, STRUCT, MAP)
	Nested bool `json:"nested"`
}

// ColumnShape is the classifier verdict for a column.
type ColumnShape int

const (
	ShapeScalar ColumnShape = iota
	ShapeArray
)

// String returns the verdict name.
func (s ColumnShape) String() string {
	if s == ShapeArray {
		return "ARRAY"
	}
	return "SCALAR"
}

// MarshalText implements encoding.TextMarshaler.
func (s ColumnShape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsNestedType reports whether an engine type name denotes a container.
func IsNestedType(storageType string) bool {
	t := strings.ToUpper(strings.TrimSpace(storageType))
	return strings.HasSuffix(t, "[]") ||
		strings.HasPrefix(t, "LIST") ||
		strings.HasPrefix(t, "STRUCT") ||
		strings.HasPrefix(t, "MAP")
}

// FormatColumn is a raw column recognised as one format's legality status.
type FormatColumn struct {
	Column string `json:"column"`
	Format string `json:"format"`
}
