// Package transform reshapes raw artifacts into query-friendly relations:
// wide legality columns into (uuid, format, status) rows, and nested price
// trees into flat price records.
package transform

import (
	"fmt"
	"strings"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/schema"
	"github.com/mtgsql/mtgsql/pkg/types"
)

// LegalityColumns is the column order of the legality relation.
var LegalityColumns = []string{"uuid", "format", "status"}

// statusExpr mirrors schema.NormalizeStatus.
func statusExpr(col string) string {
	return fmt.Sprintf("lower(replace(replace(trim(%s), ' ', '_'), '-', '_'))", col)
}

// formatExpr mirrors schema.NormalizeFormatName for ASCII names.
func formatExpr(col string) string {
	return fmt.Sprintf("trim(regexp_replace(lower(trim(%s)), '[^a-z0-9]+', '_', 'g'), '_')", col)
}

// IsLongForm reports whether a legality relation already holds one row per
// (uuid, format) instead of one column per format.
func IsLongForm(columns []types.ColumnDescriptor, entityKey string) bool {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c.Name] = true
	}
	return have[entityKey] && have["format"] && have["status"]
}

// LegalitySelect returns a query over source producing (uuid, format,
// status) with one row per non-null cell of each format column. Grouping on
// (uuid, format) keeps the pair unique even if source repeats an entity.
// Without format columns the relation is empty.
func LegalitySelect(source, entityKey string, formats []types.FormatColumn) (string, error) {
	src := schema.QuoteCatalogIdentifier(source)
	key := schema.QuoteCatalogIdentifier(entityKey)

	if len(formats) == 0 {
		return fmt.Sprintf("SELECT CAST(%s AS VARCHAR) AS uuid, CAST(NULL AS VARCHAR) AS format, CAST(NULL AS VARCHAR) AS status\nFROM %s\nWHERE FALSE",
			key, src), nil
	}

	proj := []string{key + " AS uuid"}
	on := make([]string, 0, len(formats))
	for _, f := range formats {
		if f.Format == "uuid" || !schema.ValidateIdentifier(f.Format) {
			return "", errors.NewTransformError(source,
				fmt.Sprintf("column %q does not yield a usable format name", f.Column), nil).
				WithDetails(map[string]interface{}{"column": f.Column})
		}
		alias := schema.QuoteIdentifier(f.Format)
		proj = append(proj, fmt.Sprintf("%s AS %s", schema.QuoteCatalogIdentifier(f.Column), alias))
		on = append(on, alias)
	}

	return strings.Join([]string{
		"SELECT uuid, format, min(status) AS status",
		"FROM (",
		"  SELECT uuid, format, " + statusExpr("status") + " AS status",
		"  FROM (",
		"    UNPIVOT (SELECT " + strings.Join(proj, ", ") + " FROM " + src + ")",
		"    ON " + strings.Join(on, ", "),
		"    INTO NAME format VALUE status",
		"  )",
		"  WHERE status IS NOT NULL",
		")",
		"GROUP BY uuid, format",
	}, "\n"), nil
}

// LegalityLongSelect normalises a relation that is already in row form.
func LegalityLongSelect(source, entityKey string) string {
	return strings.Join([]string{
		"SELECT uuid, format, min(status) AS status",
		"FROM (",
		fmt.Sprintf("  SELECT %s AS uuid, %s AS format, %s AS status",
			schema.QuoteCatalogIdentifier(entityKey), formatExpr(`"format"`), statusExpr(`"status"`)),
		"  FROM " + schema.QuoteCatalogIdentifier(source),
		`  WHERE "status" IS NOT NULL AND "format" IS NOT NULL`,
		")",
		"GROUP BY uuid, format",
	}, "\n")
}

// ValidateStatuses checks that every status in a built relation is known.
// values are the distinct statuses observed.
func ValidateStatuses(view string, values []string) error {
	for _, v := range values {
		if !types.LegalityStatus(v).Valid() {
			return errors.NewTransformError(view, fmt.Sprintf("unknown legality status %q", v), nil).
				WithDetails(map[string]interface{}{"status": v})
		}
	}
	return nil
}
