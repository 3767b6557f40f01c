package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
)

// Client issues row operations against the hosted credential store. Failures
// surface as STORE_ERROR with the backend message attached; no operation is
// retried automatically, every retry is user-initiated upstream.
type Client struct {
	config     Config
	httpClient *http.Client
	clock      func() time.Time
}

// NewClient builds a credential store client from configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("credential store base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      time.Now,
	}, nil
}

type profileRow struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type twoFactorRow struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Secret      string   `json:"secret"`
	Enabled     bool     `json:"enabled"`
	BackupCodes []string `json:"backup_codes"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type passkeyRow struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	CredentialID   string  `json:"credential_id"`
	PublicKey      string  `json:"public_key"`
	SignCount      int64   `json:"counter"`
	DeviceName     string  `json:"device_name"`
	CredentialJSON string  `json:"credential_json"`
	CreatedAt      string  `json:"created_at"`
	LastUsedAt     *string `json:"last_used_at"`
}

// GetProfile fetches a profile row by id.
func (c *Client) GetProfile(ctx context.Context, userID string) (storage.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}
	var rows []profileRow
	if err := c.get(ctx, "profiles", url.Values{"id": {"eq." + userID}}, &rows); err != nil {
		return storage.Profile{}, err
	}
	if len(rows) == 0 {
		return storage.Profile{}, storage.ErrNotFound
	}
	return profileFromRow(rows[0])
}

// GetProfileByEmail fetches a profile row by its unique email.
func (c *Client) GetProfileByEmail(ctx context.Context, email string) (storage.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return storage.Profile{}, fmt.Errorf("email is required")
	}
	var rows []profileRow
	if err := c.get(ctx, "profiles", url.Values{"email": {"eq." + email}}, &rows); err != nil {
		return storage.Profile{}, err
	}
	if len(rows) == 0 {
		return storage.Profile{}, storage.ErrNotFound
	}
	return profileFromRow(rows[0])
}

// PutProfile upserts a profile row.
func (c *Client) PutProfile(ctx context.Context, profile storage.Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	row := profileRow{
		ID:           profile.ID,
		Email:        strings.ToLower(strings.TrimSpace(profile.Email)),
		FullName:     profile.FullName,
		PasswordHash: profile.PasswordHash,
		CreatedAt:    formatTime(profile.CreatedAt),
		UpdatedAt:    formatTime(profile.UpdatedAt),
	}
	return c.write(ctx, http.MethodPost, "profiles", nil, row, "resolution=merge-duplicates")
}

// GetTwoFactor fetches the TOTP secret row for a user.
func (c *Client) GetTwoFactor(ctx context.Context, userID string) (storage.TwoFactorSecret, error) {
	if strings.TrimSpace(userID) == "" {
		return storage.TwoFactorSecret{}, fmt.Errorf("user id is required")
	}
	var rows []twoFactorRow
	if err := c.get(ctx, "user_2fa", url.Values{"user_id": {"eq." + userID}}, &rows); err != nil {
		return storage.TwoFactorSecret{}, err
	}
	if len(rows) == 0 {
		return storage.TwoFactorSecret{}, storage.ErrNotFound
	}
	row := rows[0]
	record := storage.TwoFactorSecret{
		ID:          row.ID,
		UserID:      row.UserID,
		Secret:      row.Secret,
		Enabled:     row.Enabled,
		BackupCodes: row.BackupCodes,
	}
	var err error
	if record.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return storage.TwoFactorSecret{}, err
	}
	if record.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return storage.TwoFactorSecret{}, err
	}
	return record, nil
}

// CreateTwoFactor inserts the TOTP secret row for a user.
func (c *Client) CreateTwoFactor(ctx context.Context, secret storage.TwoFactorSecret) error {
	if strings.TrimSpace(secret.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	row := twoFactorRow{
		ID:          secret.ID,
		UserID:      secret.UserID,
		Secret:      secret.Secret,
		Enabled:     secret.Enabled,
		BackupCodes: secret.BackupCodes,
		CreatedAt:   formatTime(secret.CreatedAt),
		UpdatedAt:   formatTime(secret.UpdatedAt),
	}
	return c.write(ctx, http.MethodPost, "user_2fa", nil, row, "")
}

// SetTwoFactorEnabled toggles the enabled flag on a user's secret row.
func (c *Client) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	patch := map[string]any{
		"enabled":    enabled,
		"updated_at": formatTime(c.clock().UTC()),
	}
	return c.patchOne(ctx, "user_2fa", url.Values{"user_id": {"eq." + userID}}, patch)
}

// ListPasskeys returns all passkey rows for a user, oldest first.
func (c *Client) ListPasskeys(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	query := url.Values{"user_id": {"eq." + userID}, "order": {"created_at.asc"}}
	var rows []passkeyRow
	if err := c.get(ctx, "user_passkeys", query, &rows); err != nil {
		return nil, err
	}
	credentials := make([]storage.PasskeyCredential, 0, len(rows))
	for _, row := range rows {
		credential, err := passkeyFromRow(row)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// GetPasskeyByCredentialID fetches a passkey row by its unique WebAuthn id.
func (c *Client) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}
	var rows []passkeyRow
	if err := c.get(ctx, "user_passkeys", url.Values{"credential_id": {"eq." + credentialID}}, &rows); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if len(rows) == 0 {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}
	return passkeyFromRow(rows[0])
}

// CreatePasskey inserts a new passkey row.
func (c *Client) CreatePasskey(ctx context.Context, credential storage.PasskeyCredential) error {
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	row := passkeyRow{
		ID:             credential.ID,
		UserID:         credential.UserID,
		CredentialID:   credential.CredentialID,
		PublicKey:      credential.PublicKey,
		SignCount:      int64(credential.SignCount),
		DeviceName:     credential.DeviceName,
		CredentialJSON: credential.CredentialJSON,
		CreatedAt:      formatTime(credential.CreatedAt),
	}
	if credential.LastUsedAt != nil {
		value := formatTime(*credential.LastUsedAt)
		row.LastUsedAt = &value
	}
	return c.write(ctx, http.MethodPost, "user_passkeys", nil, row, "")
}

// UpdatePasskeyUsage records a successful assertion against a passkey row.
func (c *Client) UpdatePasskeyUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time, credentialJSON string) error {
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	patch := map[string]any{
		"counter":         int64(signCount),
		"last_used_at":    formatTime(usedAt),
		"credential_json": credentialJSON,
	}
	return c.patchOne(ctx, "user_passkeys", url.Values{"credential_id": {"eq." + credentialID}}, patch)
}

// DeletePasskey removes a passkey row by its primary id.
func (c *Client) DeletePasskey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("passkey id is required")
	}
	deleted, err := c.deleteRows(ctx, "user_passkeys", url.Values{"id": {"eq." + id}})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) get(ctx context.Context, table string, query url.Values, out any) error {
	body, _, err := c.do(ctx, http.MethodGet, table, query, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("decode %s response", table), err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, method, table string, query url.Values, row any, extraPrefer string) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}
	_, _, err = c.do(ctx, method, table, query, payload, extraPrefer)
	return err
}

// patchOne patches rows matched by query and fails with ErrNotFound when the
// backend reports zero affected rows.
func (c *Client) patchOne(ctx context.Context, table string, query url.Values, patch map[string]any) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode %s patch: %w", table, err)
	}
	body, _, err := c.do(ctx, http.MethodPatch, table, query, payload, "return=representation")
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("decode %s patch response", table), err)
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) deleteRows(ctx context.Context, table string, query url.Values) (int, error) {
	body, _, err := c.do(ctx, http.MethodDelete, table, query, nil, "return=representation")
	if err != nil {
		return 0, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("decode %s delete response", table), err)
	}
	return len(rows), nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, payload []byte, extraPrefer string) ([]byte, int, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build %s request: %w", table, err)
	}

	token, err := c.bearerToken(c.clock().UTC())
	if err != nil {
		return nil, 0, err
	}
	if c.config.ServiceKey != "" {
		req.Header.Set("apikey", c.config.ServiceKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	prefer := ""
	if method == http.MethodPost {
		prefer = "return=minimal"
	}
	if extraPrefer != "" {
		if prefer != "" {
			prefer += ","
		}
		prefer += extraPrefer
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("%s %s", method, table), err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("read %s response", table), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(responseBody))
		if message == "" {
			message = resp.Status
		}
		return nil, resp.StatusCode, apperrors.WithMetadata(
			apperrors.CodeStoreError,
			fmt.Sprintf("%s %s: %s", method, table, message),
			map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)},
		)
	}
	return responseBody, resp.StatusCode, nil
}

func profileFromRow(row profileRow) (storage.Profile, error) {
	profile := storage.Profile{
		ID:           row.ID,
		Email:        row.Email,
		FullName:     row.FullName,
		PasswordHash: row.PasswordHash,
	}
	var err error
	if profile.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return storage.Profile{}, err
	}
	if profile.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return storage.Profile{}, err
	}
	return profile, nil
}

func passkeyFromRow(row passkeyRow) (storage.PasskeyCredential, error) {
	credential := storage.PasskeyCredential{
		ID:             row.ID,
		UserID:         row.UserID,
		CredentialID:   row.CredentialID,
		PublicKey:      row.PublicKey,
		SignCount:      uint32(row.SignCount),
		DeviceName:     row.DeviceName,
		CredentialJSON: row.CredentialJSON,
	}
	var err error
	if credential.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if row.LastUsedAt != nil && *row.LastUsedAt != "" {
		value, err := parseTime(*row.LastUsedAt)
		if err != nil {
			return storage.PasskeyCredential{}, err
		}
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.CodeStoreError, fmt.Sprintf("parse timestamp %q", value), err)
	}
	return parsed.UTC(), nil
}
