package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// BuildResult values stored in the ledger.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// BuildRecord is one row of the build ledger.
type BuildRecord struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"session_id"`
	View        string        `json:"view"`
	Fingerprint string        `json:"fingerprint"`
	Result      string        `json:"result"`
	Rows        int64         `json:"rows"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	BuiltAt     time.Time     `json:"built_at"`
}

// Ledger is the SQLite-backed manifest of one data directory. Several
// sessions may share it; each stamps its rows with its own session id.
type Ledger struct {
	db        *sql.DB
	dbPath    string
	sessionID string
	mu        sync.Mutex // serializes writers
}

// Open opens (creating if needed) the ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	l := &Ledger{
		db:        db,
		dbPath:    dbPath,
		sessionID: uuid.NewString(),
	}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SessionID identifies rows written through this handle.
func (l *Ledger) SessionID() string { return l.sessionID }

// Path returns the database file path.
func (l *Ledger) Path() string { return l.dbPath }

// RecordBuild appends a build attempt. SessionID and BuiltAt are filled in
// when empty.
func (l *Ledger) RecordBuild(ctx context.Context, rec BuildRecord) (int64, error) {
	if rec.SessionID == "" {
		rec.SessionID = l.sessionID
	}
	if rec.BuiltAt.IsZero() {
		rec.BuiltAt = time.Now()
	}
	if rec.Result == "" {
		rec.Result = ResultOK
	}

	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO view_builds (
			session_id, view_name, fingerprint, result,
			row_count, duration_ms, error, built_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.View, rec.Fingerprint, rec.Result,
		rec.Rows, rec.Duration.Milliseconds(), errText, rec.BuiltAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("manifest: failed to record build of %s: %w", rec.View, err)
	}
	return res.LastInsertId()
}

// History returns the most recent build attempts of view, newest first.
// An empty view returns attempts of every view.
func (l *Ledger) History(ctx context.Context, view string, limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT build_id, session_id, view_name, fingerprint, result,
		row_count, duration_ms, error, built_at FROM view_builds`
	var args []interface{}
	if view != "" {
		query += " WHERE view_name = ?"
		args = append(args, view)
	}
	query += " ORDER BY built_at DESC, build_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query history: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var durationMs, builtAt int64
		var errText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.View, &rec.Fingerprint, &rec.Result,
			&rec.Rows, &durationMs, &errText, &builtAt); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan build: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Error = errText.String
		rec.BuiltAt = time.UnixMilli(builtAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating history: %w", err)
	}
	return out, nil
}

// LastSuccess returns the newest successful build of view.
func (l *Ledger) LastSuccess(ctx context.Context, view string) (*BuildRecord, error) {
	var rec BuildRecord
	var durationMs, builtAt int64
	err := l.db.QueryRowContext(ctx, `
		SELECT build_id, session_id, view_name, fingerprint, result, row_count, duration_ms, built_at
		FROM view_builds WHERE view_name = ? AND result = ?
		ORDER BY built_at DESC, build_id DESC LIMIT 1`,
		view, ResultOK,
	).Scan(&rec.ID, &rec.SessionID, &rec.View, &rec.Fingerprint, &rec.Result, &rec.Rows, &durationMs, &builtAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: failed to get last build of %s: %w", view, err)
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.BuiltAt = time.UnixMilli(builtAt)
	return &rec, nil
}

// Close closes the ledger database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
