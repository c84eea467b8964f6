// Package manifest keeps a durable SQLite ledger of view builds and of the
// column layout each dataset version published.
package manifest

// CreateViewBuildsTableSQL creates the build ledger. One row per build
// attempt, successful or not.
const CreateViewBuildsTableSQL = `
CREATE TABLE IF NOT EXISTS view_builds (
    build_id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    view_name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    result TEXT NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL,
    error TEXT,
    built_at INTEGER NOT NULL
)`

// CreateColumnSnapshotsTableSQL creates the column snapshot table. A
// snapshot is written per relation whenever its column list changes.
const CreateColumnSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS column_snapshots (
    relation TEXT NOT NULL,
    version TEXT NOT NULL,
    columns_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (relation, version)
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_view_builds_view ON view_builds(view_name, built_at)`,
	`CREATE INDEX IF NOT EXISTS idx_view_builds_session ON view_builds(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_column_snapshots_created ON column_snapshots(relation, created_at)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the ledger.
func AllSchemaSQL() []string {
	statements := []string{
		CreateViewBuildsTableSQL,
		CreateColumnSnapshotsTableSQL,
	}
	return append(statements, createIndexesSQL...)
}
