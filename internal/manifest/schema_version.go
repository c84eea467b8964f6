package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mtgsql/mtgsql/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ColumnSnapshot is the column list a relation had under one dataset version.
type ColumnSnapshot struct {
	Relation  string
	Version   string
	Columns   []types.ColumnDescriptor
	CreatedAt time.Time
}

// Drift lists how a relation's columns changed between two versions.
type Drift struct {
	Relation string   `json:"relation"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Retyped  []string `json:"retyped,omitempty"`
}

// Empty reports whether nothing changed.
func (d Drift) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Retyped) == 0
}

func (d Drift) String() string {
	return fmt.Sprintf("%s %s->%s: +%v -%v ~%v", d.Relation, d.From, d.To, d.Added, d.Removed, d.Retyped)
}

// RecordColumns stores the column list of relation under version and
// returns the drift against the newest snapshot of any other version.
// The first snapshot of a relation has no drift.
func (l *Ledger) RecordColumns(ctx context.Context, relation, version string, cols []types.ColumnDescriptor) (Drift, error) {
	drift := Drift{Relation: relation, To: version}

	prev, err := l.previousSnapshot(ctx, relation, version)
	if err != nil {
		return drift, err
	}
	if prev != nil {
		drift = diffColumns(relation, prev, version, cols)
	}

	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return drift, fmt.Errorf("manifest: failed to marshal columns: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO column_snapshots (relation, version, columns_json, created_at) VALUES (?, ?, ?, ?)",
		relation, version, string(colsJSON), time.Now().UnixMilli(),
	)
	if err != nil {
		return drift, fmt.Errorf("manifest: failed to record columns of %s: %w", relation, err)
	}
	return drift, nil
}

func (l *Ledger) previousSnapshot(ctx context.Context, relation, version string) (*ColumnSnapshot, error) {
	var snap ColumnSnapshot
	var colsJSON string
	var createdAt int64
	err := l.db.QueryRowContext(ctx, `
		SELECT relation, version, columns_json, created_at FROM column_snapshots
		WHERE relation = ? AND version <> ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		relation, version,
	).Scan(&snap.Relation, &snap.Version, &colsJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: failed to read snapshot of %s: %w", relation, err)
	}
	if err := json.Unmarshal([]byte(colsJSON), &snap.Columns); err != nil {
		return nil, fmt.Errorf("manifest: failed to unmarshal snapshot of %s: %w", relation, err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt)
	return &snap, nil
}

// Snapshots returns every stored snapshot of relation, oldest first.
func (l *Ledger) Snapshots(ctx context.Context, relation string) ([]ColumnSnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT relation, version, columns_json, created_at FROM column_snapshots
		WHERE relation = ? ORDER BY created_at ASC, rowid ASC`, relation)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []ColumnSnapshot
	for rows.Next() {
		var snap ColumnSnapshot
		var colsJSON string
		var createdAt int64
		if err := rows.Scan(&snap.Relation, &snap.Version, &colsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(colsJSON), &snap.Columns); err != nil {
			return nil, fmt.Errorf("manifest: failed to unmarshal snapshot: %w", err)
		}
		snap.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating snapshots: %w", err)
	}
	return out, nil
}

func diffColumns(relation string, prev *ColumnSnapshot, version string, cols []types.ColumnDescriptor) Drift {
	d := Drift{Relation: relation, From: prev.Version, To: version}

	old := make(map[string]string, len(prev.Columns))
	for _, c := range prev.Columns {
		old[c.Name] = c.StorageType
	}
	cur := make(map[string]bool, len(cols))
	for _, c := range cols {
		cur[c.Name] = true
		typ, ok := old[c.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, c.Name)
		case typ != c.StorageType:
			d.Retyped = append(d.Retyped, c.Name)
		}
	}
	for name := range old {
		if !cur[name] {
			d.Removed = append(d.Removed, name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Retyped)
	return d
}
