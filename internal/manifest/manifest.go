package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/webmirror/webmirror/internal/model"
)

// DB provides SQLite-based storage for mirror run manifests.
//
// Design decision: We use a single database file for all runs rather
// than one manifest per output tree. This keeps run history queryable
// in one place and survives output directories being deleted.
type DB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures DB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. Recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a manifest database in the given directory.
// If CreateIfNotExists is false and the database doesn't exist, an
// error is returned.
func Open(dbDir string, opts Options) (*DB, error) {
	dbPath := filepath.Join(dbDir, "webmirror.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest database not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating
	// new files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	m := &DB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := m.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

// Close closes the database connection.
func (m *DB) Close() error {
	return m.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (m *DB) createTables() error {
	schema := `
	-- Runs store one row per mirror invocation
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root_url TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_root ON runs(root_url);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Resources store per-URL outcomes of a run
	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		local_path TEXT,
		kind TEXT NOT NULL,
		content_type TEXT,
		status_code INTEGER,
		state TEXT NOT NULL,
		error TEXT,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_resources_run ON resources(run_id);
	CREATE INDEX IF NOT EXISTS idx_resources_url ON resources(url);
	`

	_, err := m.db.ExecContext(context.Background(), schema)
	return err
}

// Run is a stored mirror run.
type Run struct {
	ID         int64
	RootURL    string
	OutputDir  string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Done       int
	Failed     int
	Skipped    int
}

// ResourceRecord is one stored per-URL outcome.
type ResourceRecord struct {
	ID          int64
	RunID       int64
	URL         string
	LocalPath   string
	Kind        string
	ContentType string
	StatusCode  int
	State       string
	Error       string
}

// SaveRun stores a run summary and all its resources in one transaction
// and returns the new run ID.
func (m *DB) SaveRun(ctx context.Context, sum *model.Summary) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
	INSERT INTO runs (root_url, output_dir, state, started_at, finished_at, done, failed, skipped)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RootURL,
		sum.OutputDir,
		sum.State,
		sum.StartedAt.UTC().Format(time.RFC3339),
		sum.FinishedAt.UTC().Format(time.RFC3339),
		sum.Done,
		sum.Failed,
		sum.Skipped,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO resources (run_id, url, local_path, kind, content_type, status_code, state, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare resource insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range sum.Resources {
		if _, err := stmt.ExecContext(ctx,
			runID,
			r.URL,
			r.LocalPath,
			r.Kind.String(),
			r.ContentType,
			r.StatusCode,
			r.State.String(),
			r.Error,
		); err != nil {
			return 0, fmt.Errorf("failed to insert resource %s: %w", r.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// ListRuns returns stored runs, most recent first, optionally filtered
// by root URL. limit <= 0 means no limit.
func (m *DB) ListRuns(ctx context.Context, rootURL string, limit int) ([]Run, error) {
	query := `
	SELECT id, root_url, output_dir, state, started_at, finished_at, done, failed, skipped
	FROM runs
	`
	args := make([]any, 0, 2)
	if rootURL != "" {
		query += " WHERE root_url = ?"
		args = append(args, rootURL)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished string
		if err := rows.Scan(
			&run.ID,
			&run.RootURL,
			&run.OutputDir,
			&run.State,
			&started,
			&finished,
			&run.Done,
			&run.Failed,
			&run.Skipped,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTimestamp(started)
		run.FinishedAt = parseTimestamp(finished)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetRun retrieves one run by ID. A nil return with nil error means the
// run does not exist.
func (m *DB) GetRun(ctx context.Context, id int64) (*Run, error) {
	var run Run
	var started, finished string

	err := m.db.QueryRowContext(ctx, `
	SELECT id, root_url, output_dir, state, started_at, finished_at, done, failed, skipped
	FROM runs WHERE id = ?`, id).Scan(
		&run.ID,
		&run.RootURL,
		&run.OutputDir,
		&run.State,
		&started,
		&finished,
		&run.Done,
		&run.Failed,
		&run.Skipped,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.StartedAt = parseTimestamp(started)
	run.FinishedAt = parseTimestamp(finished)
	return &run, nil
}

// GetRunResources retrieves the per-URL outcomes of a run in insertion
// order, which is the crawl's admission order.
func (m *DB) GetRunResources(ctx context.Context, runID int64) ([]ResourceRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
	SELECT id, run_id, url, local_path, kind, content_type, status_code, state, error
	FROM resources WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run resources: %w", err)
	}
	defer rows.Close()

	var records []ResourceRecord
	for rows.Next() {
		var rec ResourceRecord
		var localPath, contentType, errMsg sql.NullString
		var statusCode sql.NullInt64
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.URL,
			&localPath,
			&rec.Kind,
			&contentType,
			&statusCode,
			&rec.State,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		rec.LocalPath = localPath.String
		rec.ContentType = contentType.String
		rec.StatusCode = int(statusCode.Int64)
		rec.Error = errMsg.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending
// on configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
