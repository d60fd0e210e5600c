// Package journal records weave and restore runs in a SQLite database: one
// row per run and one row per module written, with content digests taken
// before and after the write.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started TEXT NOT NULL,
	finished TEXT,
	status TEXT NOT NULL,
	error TEXT
);
CREATE TABLE IF NOT EXISTS writes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	module TEXT NOT NULL,
	path TEXT NOT NULL,
	sha_before TEXT,
	sha_after TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_writes_run ON writes(run_id);
`

// Journal is an open run journal.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal %s: create tables: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Digest returns the hex SHA-256 of data, or "" for nil.
func Digest(data []byte) string {
	if data == nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// timeFormat has fixed width so that timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// Run is a run in progress.
type Run struct {
	j  *Journal
	ID uuid.UUID
}

// Begin records the start of a run in the given mode ("weave", "restore").
func (j *Journal) Begin(ctx context.Context, mode string) (*Run, error) {
	id := uuid.New()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, started, status) VALUES (?, ?, ?, ?)`,
		id.String(), mode, now(), StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Run{j: j, ID: id}, nil
}

// RecordWrite records that module was written to path. before is the file
// content that was replaced, nil if there was none.
func (r *Run) RecordWrite(ctx context.Context, module, path string, before, after []byte) error {
	_, err := r.j.db.ExecContext(ctx,
		`INSERT INTO writes (run_id, module, path, sha_before, sha_after) VALUES (?, ?, ?, ?, ?)`,
		r.ID.String(), module, path, Digest(before), Digest(after))
	if err != nil {
		return fmt.Errorf("record write %s: %w", path, err)
	}
	return nil
}

// Finish marks the run done. A non-nil runErr marks it failed.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := r.j.db.ExecContext(ctx,
		`UPDATE runs SET finished = ?, status = ?, error = ? WHERE id = ?`,
		now(), status, msg, r.ID.String())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// RunInfo is a recorded run.
type RunInfo struct {
	ID       uuid.UUID
	Mode     string
	Started  time.Time
	Finished time.Time
	Status   string
	Error    string
}

// Write is a recorded module write.
type Write struct {
	Module    string
	Path      string
	SHABefore string
	SHAAfter  string
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, mode, started, COALESCE(finished, ''), status, COALESCE(error, '')
		 FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri                    RunInfo
			id, started, finished string
		)
		if err := rows.Scan(&id, &ri.Mode, &started, &finished, &ri.Status, &ri.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if ri.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ri.Started, _ = time.Parse(timeFormat, started)
		if finished != "" {
			ri.Finished, _ = time.Parse(timeFormat, finished)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Writes returns the writes of a run in the order they happened.
func (j *Journal) Writes(ctx context.Context, run uuid.UUID) ([]Write, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT module, path, COALESCE(sha_before, ''), sha_after
		 FROM writes WHERE run_id = ? ORDER BY id`, run.String())
	if err != nil {
		return nil, fmt.Errorf("query writes: %w", err)
	}
	defer rows.Close()

	var out []Write
	for rows.Next() {
		var w Write
		if err := rows.Scan(&w.Module, &w.Path, &w.SHABefore, &w.SHAAfter); err != nil {
			return nil, fmt.Errorf("scan write: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
