package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hallpass-id/hallpass/internal/storage"
)

// PutPasskeySession stores in-flight WebAuthn ceremony state.
func (s *Store) PutPasskeySession(ctx context.Context, session storage.PasskeySession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.Kind) == "" {
		return fmt.Errorf("session kind is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_sessions (id, kind, user_id, session_json, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    user_id = excluded.user_id,
    session_json = excluded.session_json,
    expires_at = excluded.expires_at
`,
		session.ID,
		session.Kind,
		session.UserID,
		session.SessionJSON,
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey session: %w", err)
	}
	return nil
}

// GetPasskeySession fetches ceremony state by id.
func (s *Store) GetPasskeySession(ctx context.Context, id string) (storage.PasskeySession, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeySession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeySession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.PasskeySession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, kind, user_id, session_json, expires_at FROM passkey_sessions WHERE id = ?
`, id)
	var (
		session   storage.PasskeySession
		expiresAt int64
	)
	err := row.Scan(&session.ID, &session.Kind, &session.UserID, &session.SessionJSON, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeySession{}, storage.ErrNotFound
		}
		return storage.PasskeySession{}, fmt.Errorf("get passkey session: %w", err)
	}
	session.ExpiresAt = fromMillis(expiresAt)
	return session, nil
}

// DeletePasskeySession removes ceremony state by id.
func (s *Store) DeletePasskeySession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM passkey_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete passkey session: %w", err)
	}
	return nil
}

// DeleteExpiredPasskeySessions prunes ceremony state past its TTL.
func (s *Store) DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM passkey_sessions WHERE expires_at < ?`, toMillis(now)); err != nil {
		return fmt.Errorf("delete expired passkey sessions: %w", err)
	}
	return nil
}

// PutWebSession stores an authenticated browser session.
func (s *Store) PutWebSession(ctx context.Context, session storage.WebSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	revoked := sql.NullInt64{}
	if session.RevokedAt != nil {
		revoked = sql.NullInt64{Int64: toMillis(*session.RevokedAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO web_sessions (id, user_id, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    expires_at = excluded.expires_at,
    revoked_at = excluded.revoked_at
`,
		session.ID,
		session.UserID,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
		revoked,
	)
	if err != nil {
		return fmt.Errorf("put web session: %w", err)
	}
	return nil
}

// GetWebSession fetches a browser session by id.
func (s *Store) GetWebSession(ctx context.Context, id string) (storage.WebSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.WebSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.WebSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.WebSession{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, created_at, expires_at, revoked_at FROM web_sessions WHERE id = ?
`, id)
	var (
		session   storage.WebSession
		createdAt int64
		expiresAt int64
		revokedAt sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.UserID, &createdAt, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WebSession{}, storage.ErrNotFound
		}
		return storage.WebSession{}, fmt.Errorf("get web session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		session.RevokedAt = &value
	}
	return session, nil
}

// RevokeWebSession marks a browser session as revoked.
func (s *Store) RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE web_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
`, toMillis(revokedAt), id)
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredWebSessions prunes sessions past their expiry.
func (s *Store) DeleteExpiredWebSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at < ?`, toMillis(now)); err != nil {
		return fmt.Errorf("delete expired web sessions: %w", err)
	}
	return nil
}
