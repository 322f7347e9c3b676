// Run journal backed by SQLite.
//
// The journal is the durable record of what every run did: one row per
// run, one row per operation outcome. It powers `arcmig runs` and the
// undo command. Journals can hold restricted shelf marks, so the
// database supports optional at-rest encryption via SQLCipher.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/arcmig/arcmig/internal/model"
)

// RunJournal records runs and their operations in a SQLite database.
// Writes are serialized: the journal is the single shared mutable file
// of a run besides the manifest.
type RunJournal struct {
	db      *sql.DB
	mu      sync.Mutex
	current string
}

// OpenJournal opens (and creates if needed) the journal database. An
// empty passphrase opens without encryption.
func OpenJournal(dbPath, passphrase string) (*RunJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	if passphrase != "" {
		dsn = fmt.Sprintf("file:%s?_pragma_key=%s&_journal_mode=WAL&_synchronous=NORMAL",
			dbPath, url.QueryEscape(passphrase))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}
	if passphrase != "" {
		// A wrong key surfaces on the first real read.
		var v string
		if err := db.QueryRow("SELECT sqlite_version()").Scan(&v); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid passphrase or corrupted journal: %w", err)
		}
	}

	j := &RunJournal{db: db}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *RunJournal) initialize() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'running',
    started_at  TEXT NOT NULL DEFAULT (datetime('now')),
    finished_at TEXT,
    created     INTEGER NOT NULL DEFAULT 0,
    moved       INTEGER NOT NULL DEFAULT 0,
    linked      INTEGER NOT NULL DEFAULT 0,
    removed     INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS operations (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id   TEXT NOT NULL REFERENCES runs(id),
    seq      INTEGER NOT NULL,
    op_type  TEXT NOT NULL,
    source   TEXT,
    dest     TEXT,
    root     TEXT,
    entry_id TEXT,
    status   TEXT NOT NULL,
    error    TEXT
);
CREATE INDEX IF NOT EXISTS idx_operations_run ON operations(run_id, seq);
`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// BeginRun opens a run record; subsequent RecordOp calls attach to it.
func (j *RunJournal) BeginRun(ctx context.Context, runID, mode string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode) VALUES (?, ?)`, runID, mode)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	j.current = runID
	return nil
}

// RecordOp appends one operation outcome to the current run.
func (j *RunJournal) RecordOp(ctx context.Context, res model.OpResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == "" {
		return fmt.Errorf("no run in progress")
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO operations (run_id, seq, op_type, source, dest, root, entry_id, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.current, res.Op.Seq, string(res.Op.Type), res.Op.Source, res.Op.Dest,
		res.Op.Root, res.Op.EntryID, string(res.Status), res.Error)
	return err
}

// FinishRun closes the run record with its final status and counts.
func (j *RunJournal) FinishRun(ctx context.Context, report *model.ExecutionReport, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current == "" {
		return fmt.Errorf("no run in progress")
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = datetime('now'),
		       created = ?, moved = ?, linked = ?, removed = ?, skipped = ?, failed = ?
		WHERE id = ?`,
		status, report.Created, report.Moved, report.Linked, report.Removed,
		report.Skipped, report.Failed, j.current)
	j.current = ""
	return err
}

// RunInfo is one row of the run history listing.
type RunInfo struct {
	ID         string
	Mode       string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Moved      int
	Failed     int
}

// ListRuns returns the most recent runs, newest first.
func (j *RunJournal) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, mode, status, started_at, finished_at, moved, failed
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var ri RunInfo
		var started string
		var finished sql.NullString
		if err := rows.Scan(&ri.ID, &ri.Mode, &ri.Status, &started, &finished, &ri.Moved, &ri.Failed); err != nil {
			return nil, err
		}
		ri.StartedAt, _ = time.Parse("2006-01-02 15:04:05", started)
		if finished.Valid {
			t, err := time.Parse("2006-01-02 15:04:05", finished.String)
			if err == nil {
				ri.FinishedAt = &t
			}
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Ops returns the recorded operations of one run in execution order.
func (j *RunJournal) Ops(ctx context.Context, runID string) ([]model.OpResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, op_type, source, dest, root, entry_id, status, error
		FROM operations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run operations: %w", err)
	}
	defer rows.Close()

	var out []model.OpResult
	for rows.Next() {
		var res model.OpResult
		var opType, status string
		if err := rows.Scan(&res.Op.Seq, &opType, &res.Op.Source, &res.Op.Dest,
			&res.Op.Root, &res.Op.EntryID, &status, &res.Error); err != nil {
			return nil, err
		}
		res.Op.Type = model.OpType(opType)
		res.Status = model.OpStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}

// RunMode returns the recorded mode of a run.
func (j *RunJournal) RunMode(ctx context.Context, runID string) (string, error) {
	var mode string
	err := j.db.QueryRowContext(ctx, `SELECT mode FROM runs WHERE id = ?`, runID).Scan(&mode)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("run %s not found", runID)
	}
	return mode, err
}

// Close releases the database handle.
func (j *RunJournal) Close() error {
	return j.db.Close()
}
