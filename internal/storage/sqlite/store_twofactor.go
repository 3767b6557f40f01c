package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hallpass-id/hallpass/internal/storage"
)

// GetTwoFactor fetches the TOTP secret row for a user.
func (s *Store) GetTwoFactor(ctx context.Context, userID string) (storage.TwoFactorSecret, error) {
	if err := ctx.Err(); err != nil {
		return storage.TwoFactorSecret{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TwoFactorSecret{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return storage.TwoFactorSecret{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, secret, enabled, backup_codes, created_at, updated_at
FROM user_2fa WHERE user_id = ?
`, userID)

	var (
		record     storage.TwoFactorSecret
		enabled    int64
		backupsRaw string
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&record.ID, &record.UserID, &record.Secret, &enabled, &backupsRaw, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TwoFactorSecret{}, storage.ErrNotFound
		}
		return storage.TwoFactorSecret{}, fmt.Errorf("get two-factor: %w", err)
	}
	record.Enabled = enabled != 0
	record.BackupCodes, err = decodeBackupCodes(backupsRaw)
	if err != nil {
		return storage.TwoFactorSecret{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// CreateTwoFactor inserts the TOTP secret for a user. The user_id unique
// constraint enforces at most one secret per account.
func (s *Store) CreateTwoFactor(ctx context.Context, secret storage.TwoFactorSecret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(secret.ID) == "" {
		return fmt.Errorf("two-factor id is required")
	}
	if strings.TrimSpace(secret.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(secret.Secret) == "" {
		return fmt.Errorf("secret is required")
	}

	backups, err := encodeBackupCodes(secret.BackupCodes)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO user_2fa (id, user_id, secret, enabled, backup_codes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		secret.ID,
		secret.UserID,
		secret.Secret,
		boolToInt(secret.Enabled),
		backups,
		toMillis(secret.CreatedAt),
		toMillis(secret.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create two-factor: %w", err)
	}
	return nil
}

// SetTwoFactorEnabled toggles the enabled flag for a user's secret.
func (s *Store) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE user_2fa SET enabled = ?, updated_at = ? WHERE user_id = ?
`, boolToInt(enabled), toMillis(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("set two-factor enabled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set two-factor enabled: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func encodeBackupCodes(codes []string) (string, error) {
	if len(codes) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("marshal backup codes: %w", err)
	}
	return string(encoded), nil
}

func decodeBackupCodes(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(value), &codes); err != nil {
		return nil, fmt.Errorf("unmarshal backup codes: %w", err)
	}
	return codes, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
