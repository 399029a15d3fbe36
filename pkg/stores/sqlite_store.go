package stores

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

// SQLiteStore persists bootstrap run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// UpsertRun inserts or replaces a run record.
func (s *SQLiteStore) UpsertRun(ctx context.Context, run *RunRecord) error {
	now := time.Now()
	query := `
		INSERT INTO runs (id, mode, state, manifest_path, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			completed_at = excluded.completed_at,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.State,
		run.ManifestPath,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, mode, state, manifest_path, started_at, completed_at, error, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Mode,
		&run.State,
		&run.ManifestPath,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest-first with pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, mode, state, manifest_path, started_at, completed_at, error, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID,
			&run.Mode,
			&run.State,
			&run.ManifestPath,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.CreatedAt,
			&run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// UpsertStep inserts or replaces a step record for a run.
func (s *SQLiteStore) UpsertStep(ctx context.Context, step *StepRecord) error {
	query := `
		INSERT INTO steps (run_id, position, name, status, started_at, completed_at, duration_ms, error, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, position) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			output = excluded.output
	`

	_, err := s.db.ExecContext(ctx, query,
		step.RunID,
		step.Position,
		step.Name,
		step.Status,
		step.StartedAt,
		step.CompletedAt,
		step.DurationMS,
		step.Error,
		step.Output,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert step: %w", err)
	}

	return nil
}

// ListSteps returns a run's step records in execution order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	query := `
		SELECT run_id, position, name, status, started_at, completed_at, duration_ms, error, output
		FROM steps
		WHERE run_id = ?
		ORDER BY position ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*StepRecord{}
	for rows.Next() {
		step := &StepRecord{}
		if err := rows.Scan(
			&step.RunID,
			&step.Position,
			&step.Name,
			&step.Status,
			&step.StartedAt,
			&step.CompletedAt,
			&step.DurationMS,
			&step.Error,
			&step.Output,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// AppendEvent appends a timeline event for a run.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID, level, message string) error {
	query := `INSERT INTO events (run_id, level, message, timestamp) VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, runID, level, message, time.Now()); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's timeline events oldest-first.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*EventRecord, error) {
	query := `
		SELECT id, run_id, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		ev := &EventRecord{}
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Level, &ev.Message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
