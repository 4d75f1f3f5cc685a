// Package history persists generation records to SQLite. Writes go
// through an async queue so request latency never waits on disk; the
// history endpoint reads the most recent records.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"

	"sd_backend/core"
)

const busyTimeoutMS = 5000

// DefaultRecentLimit caps the history endpoint's default page size.
const DefaultRecentLimit = 50

// Store wraps the SQLite connection holding generation history.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed, enables WAL mode, and
// applies pending migrations from migrationsPath (a golang-migrate
// source URL such as "file://history/migrations").
func Open(dbPath, migrationsPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("history: database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: pinging database: %w", err)
	}

	// WAL gives concurrent readers with the single writer SQLite wants
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: applying %q: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, migrationsPath); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// runMigrations applies pending up migrations. No pending migrations
// is not an error.
func runMigrations(db *sql.DB, migrationsPath string) error {
	if migrationsPath == "" {
		return errors.New("history: migrations path is required")
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: "main"})
	if err != nil {
		return fmt.Errorf("history: creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("history: creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history: applying migrations: %w", err)
	}
	return nil
}

// Save inserts one generation record. CreatedAt defaults to now when
// unset.
func (s *Store) Save(ctx context.Context, record core.GenerationRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (
			correlation_id, operation, prompt, negative_prompt,
			steps, guidance_scale, strength, width, height, seed,
			duration_ms, status, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CorrelationID, record.Operation, record.Prompt, record.NegativePrompt,
		record.Steps, record.GuidanceScale, record.Strength,
		record.Width, record.Height, record.Seed,
		record.DurationMS, record.Status, record.ErrorMessage, createdAt,
	)
	if err != nil {
		return fmt.Errorf("history: inserting record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A non-positive
// limit uses DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]core.GenerationRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, operation, prompt, negative_prompt,
		       steps, guidance_scale, strength, width, height, seed,
		       duration_ms, status, error_message, created_at
		FROM generations
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying records: %w", err)
	}
	defer rows.Close()

	records := make([]core.GenerationRecord, 0, limit)
	for rows.Next() {
		var r core.GenerationRecord
		if err := rows.Scan(
			&r.ID, &r.CorrelationID, &r.Operation, &r.Prompt, &r.NegativePrompt,
			&r.Steps, &r.GuidanceScale, &r.Strength, &r.Width, &r.Height, &r.Seed,
			&r.DurationMS, &r.Status, &r.ErrorMessage, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scanning record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating records: %w", err)
	}
	return records, nil
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations").Scan(&n); err != nil {
		return 0, fmt.Errorf("history: counting records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
