package transform

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtgsql/mtgsql/internal/engine"
	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/pkg/types"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func legalityRows(t *testing.T, e *engine.Engine, query string) []types.LegalityRow {
	t.Helper()
	rs, err := e.Query(context.Background(), query)
	require.NoError(t, err)
	out := make([]types.LegalityRow, 0, rs.Len())
	for _, row := range rs.Rows {
		out = append(out, types.LegalityRow{
			EntityID: row[0].(string),
			Format:   row[1].(string),
			Status:   types.LegalityStatus(row[2].(string)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Format < out[j].Format
	})
	return out
}

func TestLegalitySelect_NullsOmitted(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, `CREATE TABLE legal_raw (uuid VARCHAR, modern VARCHAR, standard VARCHAR, pioneer VARCHAR)`))
	require.NoError(t, e.Exec(ctx, `INSERT INTO legal_raw VALUES ('X', 'Legal', 'Banned', NULL)`))

	q, err := LegalitySelect("legal_raw", "uuid", []types.FormatColumn{
		{Column: "modern", Format: "modern"},
		{Column: "standard", Format: "standard"},
		{Column: "pioneer", Format: "pioneer"},
	})
	require.NoError(t, err)

	assert.Equal(t, []types.LegalityRow{
		{EntityID: "X", Format: "modern", Status: types.StatusLegal},
		{EntityID: "X", Format: "standard", Status: types.StatusBanned},
	}, legalityRows(t, e, q))
}

func TestLegalitySelect_IdempotentAndUnique(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, `CREATE TABLE legal_raw (uuid VARCHAR, "Pauper Commander" VARCHAR, vintage VARCHAR)`))
	require.NoError(t, e.Exec(ctx, `INSERT INTO legal_raw VALUES
		('A', 'Not Legal', 'Restricted'),
		('A', 'Not Legal', 'Restricted'),
		('B', NULL, 'Legal')`))

	q, err := LegalitySelect("legal_raw", "uuid", []types.FormatColumn{
		{Column: "Pauper Commander", Format: "pauper_commander"},
		{Column: "vintage", Format: "vintage"},
	})
	require.NoError(t, err)

	first := legalityRows(t, e, q)
	second := legalityRows(t, e, q)
	assert.Equal(t, first, second)
	assert.Equal(t, []types.LegalityRow{
		{EntityID: "A", Format: "pauper_commander", Status: types.StatusNotLegal},
		{EntityID: "A", Format: "vintage", Status: types.StatusRestricted},
		{EntityID: "B", Format: "vintage", Status: types.StatusLegal},
	}, first)
}

func TestLegalityLongSelect(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, `CREATE TABLE legal_rows (uuid VARCHAR, format VARCHAR, status VARCHAR)`))
	require.NoError(t, e.Exec(ctx, `INSERT INTO legal_rows VALUES ('X', 'Modern', 'Legal'), ('X', 'standard', NULL)`))

	cols, err := e.Columns(ctx, "legal_rows")
	require.NoError(t, err)
	require.True(t, IsLongForm(cols, "uuid"))

	assert.Equal(t, []types.LegalityRow{
		{EntityID: "X", Format: "modern", Status: types.StatusLegal},
	}, legalityRows(t, e, LegalityLongSelect("legal_rows", "uuid")))
}

func TestLegalitySelect_NoFormatsIsEmpty(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, `CREATE TABLE legal_raw (uuid VARCHAR, oathbreaker VARCHAR)`))
	require.NoError(t, e.Exec(ctx, `INSERT INTO legal_raw VALUES ('X', NULL)`))

	q, err := LegalitySelect("legal_raw", "uuid", nil)
	require.NoError(t, err)

	rs, err := e.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, LegalityColumns, rs.Columns)
	assert.Equal(t, 0, rs.Len())
}

func TestLegalitySelect_Errors(t *testing.T) {
	_, err := LegalitySelect("legal_raw", "uuid", []types.FormatColumn{{Column: "UUID", Format: "uuid"}})
	assert.True(t, errors.HasCode(err, errors.CodeTransformFailure))
}

func TestValidateStatuses(t *testing.T) {
	assert.NoError(t, ValidateStatuses("card_legalities", []string{"legal", "banned"}))
	assert.Error(t, ValidateStatuses("card_legalities", []string{"legal", "mythic"}))
}
