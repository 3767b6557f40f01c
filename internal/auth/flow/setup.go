package flow

import (
	"context"
	"strings"
	"time"

	"github.com/hallpass-id/hallpass/internal/auth/totp"
	"github.com/hallpass-id/hallpass/internal/platform/branding"
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
)

// SetupState names a step of first-time two-factor configuration.
type SetupState string

const (
	SetupStateGeneratingSecret         SetupState = "generating_secret"
	SetupStateAwaitingConfirmationCode SetupState = "awaiting_confirmation_code"
	SetupStateEnabled                  SetupState = "enabled"
)

const backupCodeCount = 8

// Setup is one first-time two-factor configuration attempt. The secret is
// held in memory until the user proves possession by confirming a code;
// nothing is persisted before that.
type Setup struct {
	controller *Controller

	id          string
	state       SetupState
	userID      string
	account     string
	secret      string
	backupCodes []string
}

// NewSetup generates a fresh secret for the account and moves straight to
// the confirmation step. Accounts with an enabled secret get
// TWO_FACTOR_EXISTS.
func (c *Controller) NewSetup(ctx context.Context, userID string) (*Setup, error) {
	profile, err := c.store.GetProfile(ctx, userID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, errors.New(errors.CodeNotFound, "account not found")
		}
		return nil, errors.Wrap(errors.CodeStoreError, "load profile", err)
	}
	existing, err := c.store.GetTwoFactor(ctx, userID)
	if err != nil && err != storage.ErrNotFound {
		return nil, errors.Wrap(errors.CodeStoreError, "load two-factor secret", err)
	}
	if err == nil && existing.Enabled {
		return nil, errors.New(errors.CodeTwoFactorExists, "two-factor is already enabled")
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	backupCodes, err := totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	flowID, err := c.newID()
	if err != nil {
		return nil, err
	}
	return &Setup{
		controller:  c,
		id:          flowID,
		state:       SetupStateAwaitingConfirmationCode,
		userID:      userID,
		account:     profile.Email,
		secret:      secret,
		backupCodes: backupCodes,
	}, nil
}

// ID identifies the attempt for transport in an opaque cookie reference.
func (s *Setup) ID() string { return s.id }

// State reports the current step.
func (s *Setup) State() SetupState { return s.state }

// UserID is the account being configured.
func (s *Setup) UserID() string { return s.userID }

// Secret is the pending base32 secret for manual entry.
func (s *Setup) Secret() string { return s.secret }

// ProvisioningURI is the otpauth:// value rendered as a QR code.
func (s *Setup) ProvisioningURI() string {
	return totp.ProvisioningURI(s.secret, s.account, branding.Issuer)
}

// BackupCodes are the recovery codes stored alongside the secret once the
// setup is confirmed. Shown to the user exactly once.
func (s *Setup) BackupCodes() []string { return s.backupCodes }

// Confirm checks the submitted code against the pending secret. A mismatch
// stays at the confirmation step; a match persists the secret enabled with
// its backup codes.
func (s *Setup) Confirm(ctx context.Context, code string) error {
	if s.state != SetupStateAwaitingConfirmationCode {
		return errors.New(errors.CodeFlowStateInvalid, "confirmation is not pending")
	}
	if !totp.Validate(s.secret, strings.TrimSpace(code), s.controller.totpWindow) {
		return errors.New(errors.CodeInvalidCode, "code does not match")
	}

	recordID, err := s.controller.newID()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = s.controller.store.CreateTwoFactor(ctx, storage.TwoFactorSecret{
		ID:          recordID,
		UserID:      s.userID,
		Secret:      s.secret,
		Enabled:     true,
		BackupCodes: s.backupCodes,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return errors.Wrap(errors.CodeStoreError, "store two-factor secret", err)
	}
	s.state = SetupStateEnabled
	return nil
}

// Enabled reports whether the secret has been confirmed and persisted.
func (s *Setup) Enabled() bool {
	return s.state == SetupStateEnabled
}
