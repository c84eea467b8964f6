package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtgsql/mtgsql/pkg/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndHistory(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	_, err := l.RecordBuild(ctx, BuildRecord{View: "cards", Fingerprint: "a", Rows: 10, Duration: 1500 * time.Millisecond, BuiltAt: base})
	require.NoError(t, err)
	_, err = l.RecordBuild(ctx, BuildRecord{View: "cards", Fingerprint: "b", Result: ResultFailed, Error: "boom", BuiltAt: base.Add(time.Second)})
	require.NoError(t, err)
	_, err = l.RecordBuild(ctx, BuildRecord{View: "card_legalities", Fingerprint: "c", Rows: 3, BuiltAt: base.Add(2 * time.Second)})
	require.NoError(t, err)

	hist, err := l.History(ctx, "cards", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].Fingerprint)
	assert.Equal(t, ResultFailed, hist[0].Result)
	assert.Equal(t, "boom", hist[0].Error)
	assert.Equal(t, "a", hist[1].Fingerprint)
	assert.Equal(t, int64(10), hist[1].Rows)
	assert.Equal(t, 1500*time.Millisecond, hist[1].Duration)
	assert.Equal(t, l.SessionID(), hist[1].SessionID)
	assert.Empty(t, hist[1].Error)

	all, err := l.History(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "card_legalities", all[0].View)

	last, err := l.LastSuccess(ctx, "cards")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "a", last.Fingerprint)

	none, err := l.LastSuccess(ctx, "tokens")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLedger_SharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.SessionID(), b.SessionID())

	ctx := context.Background()
	_, err = a.RecordBuild(ctx, BuildRecord{View: "cards", Fingerprint: "x"})
	require.NoError(t, err)

	hist, err := b.History(ctx, "cards", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, a.SessionID(), hist[0].SessionID)
}

func TestLedger_ColumnDrift(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	v1 := []types.ColumnDescriptor{
		{Name: "uuid", StorageType: "VARCHAR"},
		{Name: "colors", StorageType: "VARCHAR"},
		{Name: "printings", StorageType: "VARCHAR"},
	}
	drift, err := l.RecordColumns(ctx, "cards", "v1", v1)
	require.NoError(t, err)
	assert.True(t, drift.Empty())

	// Same version again is not drift
	drift, err = l.RecordColumns(ctx, "cards", "v1", v1)
	require.NoError(t, err)
	assert.True(t, drift.Empty())

	v2 := []types.ColumnDescriptor{
		{Name: "uuid", StorageType: "VARCHAR"},
		{Name: "colors", StorageType: "VARCHAR[]"},
		{Name: "subsets", StorageType: "VARCHAR"},
	}
	drift, err = l.RecordColumns(ctx, "cards", "v2", v2)
	require.NoError(t, err)
	assert.False(t, drift.Empty())
	assert.Equal(t, "v1", drift.From)
	assert.Equal(t, "v2", drift.To)
	assert.Equal(t, []string{"subsets"}, drift.Added)
	assert.Equal(t, []string{"printings"}, drift.Removed)
	assert.Equal(t, []string{"colors"}, drift.Retyped)

	snaps, err := l.Snapshots(ctx, "cards")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "v1", snaps[0].Version)
	assert.Equal(t, v2, snaps[1].Columns)

	other, err := l.RecordColumns(ctx, "tokens", "v2", v2)
	require.NoError(t, err)
	assert.True(t, other.Empty())
}
