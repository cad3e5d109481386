package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/pressfleet/pressfleet/pkg/orchestrator"
)

const driverName = "pressfleet-sqlite"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// Config configures the audit store.
type Config struct {
	// Path is the local filesystem path to the audit database. Parent
	// directories are created as needed. ":memory:" opens an in-memory
	// database, which only makes sense for tests.
	Path string
}

const schemaVersion = 1

// Store is the SQLite-backed audit log. Safe for concurrent use; SQLite
// access is serialized on a single connection with WAL enabled.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the audit database and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}

	if err := configure(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("audit store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &StoreError{Op: "create directory", Err: err}
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configure(ctx context.Context, db *sql.DB, dsn string) error {
	if dsn == ":memory:" {
		// An in-memory database vanishes when its connection closes, so
		// the pool must never grow beyond one.
		db.SetMaxOpenConns(1)
		return nil
	}

	// Single connection with WAL keeps lock contention predictable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return &StoreError{Op: "enable WAL", Err: err}
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return &StoreError{Op: "set busy timeout", Err: err}
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "begin migration", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 1)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			task_id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			operation_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			site_name TEXT NOT NULL,
			state TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			error TEXT,
			reason TEXT,
			started_at TEXT,
			completed_at TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_batch ON audit_entries(batch_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_site ON audit_entries(site_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_recorded ON audit_entries(recorded_at);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &StoreError{Op: "apply schema", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE schema_meta SET schema_version = ? WHERE id = 1 AND schema_version < ?`,
		schemaVersion, schemaVersion); err != nil {
		return &StoreError{Op: "bump schema version", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "commit migration", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists one terminal task outcome. Idempotent by task id: a
// duplicate attempt for an already-recorded task is a no-op.
//
// Record implements orchestrator.AuditRecorder.
func (s *Store) Record(task orchestrator.TaskView) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (
			task_id, batch_id, operation_id, site_id, site_name,
			state, attempt_count, error, reason,
			started_at, completed_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING`,
		task.ID, task.BatchID, task.OperationID, task.SiteID, task.SiteName,
		string(task.State), task.AttemptCount, task.Error, string(task.Reason),
		timePtr(task.StartedAt), timePtr(task.CompletedAt),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &StoreError{Op: "record", Err: err}
	}
	return nil
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	where, args := buildWhere(q)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)

	query := `SELECT task_id, batch_id, operation_id, site_id, site_name,
		state, attempt_count, error, reason, started_at, completed_at, recorded_at
		FROM audit_entries` + where + ` ORDER BY recorded_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &StoreError{Op: "scan", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return out, nil
}

// Count returns the number of entries matching the query, ignoring Limit.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	where, args := buildWhere(q)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&n)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return n, nil
}

func buildWhere(q Query) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if q.BatchID != "" {
		add("batch_id = ?", q.BatchID)
	}
	if q.SiteID != "" {
		add("site_id = ?", q.SiteID)
	}
	if q.OperationID != "" {
		add("operation_id = ?", q.OperationID)
	}
	if q.State != "" {
		add("state = ?", string(q.State))
	}
	if !q.Since.IsZero() {
		add("recorded_at >= ?", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if !q.Until.IsZero() {
		add("recorded_at < ?", q.Until.UTC().Format(time.RFC3339Nano))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var state, reason string
	var errText, started, completed sql.NullString
	var recorded string

	if err := row.Scan(&e.TaskID, &e.BatchID, &e.OperationID, &e.SiteID, &e.SiteName,
		&state, &e.AttemptCount, &errText, &reason, &started, &completed, &recorded); err != nil {
		return Entry{}, err
	}

	e.State = orchestrator.TaskState(state)
	e.Reason = orchestrator.FailureReason(reason)
	e.Error = errText.String

	var err error
	if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
		return Entry{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	if e.StartedAt, err = parseTimePtr(started); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.CompletedAt, err = parseTimePtr(completed); err != nil {
		return Entry{}, fmt.Errorf("parse completed_at: %w", err)
	}
	return e, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
