package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file location.
	Path string `yaml:"path"`
}

// NewSQLiteStore creates a new SQLite store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode and applies schema migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("history: opening database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("history: pinging database: %w", err)
	}
	s.db = db

	if err := s.migrateSchema(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// migrateSchema applies the embedded schema migrations.
func (s *SQLiteStore) migrateSchema() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history: creating migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("history: creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("history: creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: applying schema migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordStart implements Store.
func (s *SQLiteStore) RecordStart(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, database_name, plan_hash, phase, quorum, winner, entries, status, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		run.ID, run.Database, run.PlanHash, run.Phase, run.Quorum,
		boolToInt(run.Winner), run.Entries, string(RunStatusRunning), run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: recording run start: %w", err)
	}
	return nil
}

// RecordFinish implements Store.
func (s *SQLiteStore) RecordFinish(ctx context.Context, id string, status RunStatus, runErr string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), runErr, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("history: recording run finish: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: recording run finish: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("history: run %q not found", id)
	}
	return nil
}

// SetWinner implements Store.
func (s *SQLiteStore) SetWinner(ctx context.Context, id string, winner bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET winner = ? WHERE id = ?`, boolToInt(winner), id)
	if err != nil {
		return fmt.Errorf("history: updating run winner: %w", err)
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, database_name, plan_hash, phase, quorum, winner, entries, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: run %q not found", id)
	}
	return run, err
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, planHash string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, database_name, plan_hash, phase, quorum, winner, entries, status, error, started_at, finished_at
		FROM runs WHERE plan_hash = ? ORDER BY started_at DESC`, planHash)
	if err != nil {
		return nil, fmt.Errorf("history: listing runs: %w", err)
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

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		winner     int
		status     string
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Database, &run.PlanHash, &run.Phase, &run.Quorum,
		&winner, &run.Entries, &status, &run.Error, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Winner = winner != 0
	run.Status = RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
