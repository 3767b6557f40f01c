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

// ListPasskeys returns all passkey credentials for a user, oldest first.
func (s *Store) ListPasskeys(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, credential_id, public_key, sign_count, device_name, credential_json, created_at, last_used_at
FROM user_passkeys WHERE user_id = ? ORDER BY created_at ASC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var credentials []storage.PasskeyCredential
	for rows.Next() {
		credential, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return credentials, nil
}

// GetPasskeyByCredentialID fetches a credential by its unique WebAuthn id.
func (s *Store) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, credential_id, public_key, sign_count, device_name, credential_json, created_at, last_used_at
FROM user_passkeys WHERE credential_id = ?
`, credentialID)
	credential, err := scanPasskey(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, err
	}
	return credential, nil
}

// CreatePasskey inserts a new credential row.
func (s *Store) CreatePasskey(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("passkey id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO user_passkeys (id, user_id, credential_id, public_key, sign_count, device_name, credential_json, created_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.ID,
		credential.UserID,
		credential.CredentialID,
		credential.PublicKey,
		int64(credential.SignCount),
		credential.DeviceName,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("create passkey: %w", err)
	}
	return nil
}

// UpdatePasskeyUsage records a successful assertion against a credential.
func (s *Store) UpdatePasskeyUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time, credentialJSON string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE user_passkeys SET sign_count = ?, last_used_at = ?, credential_json = ?
WHERE credential_id = ?
`, int64(signCount), toMillis(usedAt), credentialJSON, credentialID)
	if err != nil {
		return fmt.Errorf("update passkey usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey usage: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeletePasskey removes a credential row by its primary id.
func (s *Store) DeletePasskey(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("passkey id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM user_passkeys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanPasskey(scan func(...any) error) (storage.PasskeyCredential, error) {
	var (
		credential storage.PasskeyCredential
		signCount  int64
		createdAt  int64
		lastUsed   sql.NullInt64
	)
	err := scan(
		&credential.ID,
		&credential.UserID,
		&credential.CredentialID,
		&credential.PublicKey,
		&signCount,
		&credential.DeviceName,
		&credential.CredentialJSON,
		&createdAt,
		&lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, err
		}
		return storage.PasskeyCredential{}, fmt.Errorf("scan passkey: %w", err)
	}
	credential.SignCount = uint32(signCount)
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
