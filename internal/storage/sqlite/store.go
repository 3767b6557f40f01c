// Package sqlite implements the storage contracts over a local SQLite file.
//
// A single file backs identity, two-factor, passkey, and session state so
// every auth subflow shares the same transaction and visibility boundaries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hallpass-id/hallpass/internal/platform/storage/sqlitemigrate"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store provides SQLite-backed persistence for auth records.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store at the provided path and applies bundled
// migrations, keeping startup and schema evolution in one place.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS)
}

// PutProfile inserts or updates an account profile.
func (s *Store) PutProfile(ctx context.Context, profile storage.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if strings.TrimSpace(profile.Email) == "" {
		return fmt.Errorf("profile email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO profiles (id, email, full_name, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    full_name = excluded.full_name,
    password_hash = excluded.password_hash,
    updated_at = excluded.updated_at
`,
		profile.ID,
		strings.ToLower(strings.TrimSpace(profile.Email)),
		profile.FullName,
		profile.PasswordHash,
		toMillis(profile.CreatedAt),
		toMillis(profile.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

// GetProfile fetches a profile by user id.
func (s *Store) GetProfile(ctx context.Context, userID string) (storage.Profile, error) {
	if err := ctx.Err(); err != nil {
		return storage.Profile{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Profile{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, full_name, password_hash, created_at, updated_at
FROM profiles WHERE id = ?
`, userID)
	return scanProfile(row)
}

// GetProfileByEmail fetches a profile by its unique email.
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (storage.Profile, error) {
	if err := ctx.Err(); err != nil {
		return storage.Profile{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Profile{}, fmt.Errorf("storage is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return storage.Profile{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, full_name, password_hash, created_at, updated_at
FROM profiles WHERE email = ?
`, email)
	return scanProfile(row)
}

func scanProfile(row *sql.Row) (storage.Profile, error) {
	var (
		profile   storage.Profile
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&profile.ID,
		&profile.Email,
		&profile.FullName,
		&profile.PasswordHash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Profile{}, storage.ErrNotFound
		}
		return storage.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	profile.CreatedAt = fromMillis(createdAt)
	profile.UpdatedAt = fromMillis(updatedAt)
	return profile, nil
}
