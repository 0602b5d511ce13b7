package avstemming

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

// ErrNoRuns is returned when no run of the requested type has been recorded
var ErrNoRuns = errors.New("no reconciliation runs")

// Run is the record of one transmitted reconciliation
type Run struct {
	ID   string                 `json:"id"`
	Type oppdrag.AvstemmingType `json:"type"`
	// From and To are the key window; for consistency runs they are derived from live-from and the snapshot
	From       ledger.Key   `json:"from"`
	To         ledger.Key   `json:"to"`
	Count      int          `json:"count"`
	Amount     money.Amount `json:"amount"`
	Messages   int          `json:"messages"`
	ArchiveRef string       `json:"archive_ref,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RunRepository records transmitted runs
type RunRepository interface {
	SaveRun(ctx context.Context, run *Run) error
	LastRun(ctx context.Context, typ oppdrag.AvstemmingType) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// InitDB opens (or creates) the run log at the given path. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dsn == ":memory:" {
		// every new connection would open its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS avstemming_runs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			nokkel_fom INTEGER NOT NULL,
			nokkel_tom INTEGER NOT NULL,
			antall INTEGER NOT NULL,
			belop INTEGER NOT NULL,
			meldinger INTEGER NOT NULL,
			archive_ref TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_avstemming_runs_type ON avstemming_runs(type, nokkel_tom)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

// SQLiteRunRepository implements RunRepository on database/sql
type SQLiteRunRepository struct {
	db *sql.DB
}

func NewSQLiteRunRepository(db *sql.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

const runColumns = `id, type, nokkel_fom, nokkel_tom, antall, belop, meldinger, archive_ref, created_at`

func (r *SQLiteRunRepository) SaveRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO avstemming_runs (`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, string(run.Type), run.From.Nanos(), run.To.Nanos(), run.Count, int64(run.Amount),
		run.Messages, run.ArchiveRef, run.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun returns the run of the given type with the latest window end
func (r *SQLiteRunRepository) LastRun(ctx context.Context, typ oppdrag.AvstemmingType) (*Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM avstemming_runs WHERE type = ? ORDER BY nokkel_tom DESC LIMIT 1`,
		string(typ),
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (r *SQLiteRunRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM avstemming_runs ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run       Run
		typ       string
		from, to  int64
		amount    int64
		createdAt string
	)
	if err := s.Scan(&run.ID, &typ, &from, &to, &run.Count, &amount, &run.Messages, &run.ArchiveRef, &createdAt); err != nil {
		return nil, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: parsing created_at: %w", run.ID, err)
	}
	run.Type = oppdrag.AvstemmingType(typ)
	run.From = ledger.KeyFromNanos(from)
	run.To = ledger.KeyFromNanos(to)
	run.Amount = money.Amount(amount)
	run.CreatedAt = created
	return &run, nil
}
