// Package storage defines the credential records and the store contracts the
// auth flows depend on. Implementations live in the sqlite (local file) and
// credstore (hosted rows API) subpackages.
package storage

import (
	"context"
	"time"

	"github.com/hallpass-id/hallpass/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Profile is the identity record for an account.
type Profile struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TwoFactorSecret stores the TOTP shared secret for an account.
// At most one row exists per user.
type TwoFactorSecret struct {
	ID          string
	UserID      string
	Secret      string // base32, no padding
	Enabled     bool
	BackupCodes []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PasskeyCredential stores a WebAuthn credential for an account.
type PasskeyCredential struct {
	ID           string
	UserID       string
	CredentialID string // base64url raw credential id, globally unique
	PublicKey    string // base64 COSE public key material
	SignCount    uint32
	DeviceName   string
	// CredentialJSON is the full webauthn credential encoding used to
	// rebuild library types for assertion verification.
	CredentialJSON string
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeySession stores in-flight WebAuthn ceremony state between the begin
// and finish requests of a registration or login.
type PasskeySession struct {
	ID          string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// WebSession is a durable authenticated browser session.
type WebSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// ProfileStore persists account identity records.
type ProfileStore interface {
	PutProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
}

// TwoFactorStore persists TOTP secrets.
type TwoFactorStore interface {
	// GetTwoFactor returns the secret for a user, or ErrNotFound when the
	// account never completed 2FA setup.
	GetTwoFactor(ctx context.Context, userID string) (TwoFactorSecret, error)
	CreateTwoFactor(ctx context.Context, secret TwoFactorSecret) error
	SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error
}

// PasskeyStore persists WebAuthn credentials.
type PasskeyStore interface {
	ListPasskeys(ctx context.Context, userID string) ([]PasskeyCredential, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID string) (PasskeyCredential, error)
	CreatePasskey(ctx context.Context, credential PasskeyCredential) error
	// UpdatePasskeyUsage records a successful assertion: new signature
	// counter, last-used timestamp, and the refreshed credential encoding.
	UpdatePasskeyUsage(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time, credentialJSON string) error
	DeletePasskey(ctx context.Context, id string) error
}

// PasskeySessionStore persists transient WebAuthn ceremony sessions.
type PasskeySessionStore interface {
	PutPasskeySession(ctx context.Context, session PasskeySession) error
	GetPasskeySession(ctx context.Context, id string) (PasskeySession, error)
	DeletePasskeySession(ctx context.Context, id string) error
	DeleteExpiredPasskeySessions(ctx context.Context, now time.Time) error
}

// WebSessionStore persists authenticated browser sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
	DeleteExpiredWebSessions(ctx context.Context, now time.Time) error
}

// CredentialStore groups the three externally-owned record families.
type CredentialStore interface {
	ProfileStore
	TwoFactorStore
	PasskeyStore
}
