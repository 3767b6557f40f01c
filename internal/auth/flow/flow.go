// Package flow sequences the login and two-factor setup steps. Each attempt
// is an explicit value handed from request to request; there is no ambient
// authentication state. Only a flow that reaches Authenticated may mint a
// web session.
package flow

import (
	"context"
	"strings"

	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/auth/totp"
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/platform/id"
	"github.com/hallpass-id/hallpass/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// State names a step of a login attempt.
type State string

const (
	StateAwaitingPassword         State = "awaiting_password"
	StateAwaitingMethodChoice     State = "awaiting_method_choice"
	StateAwaitingTOTPCode         State = "awaiting_totp_code"
	StateAwaitingPasskeyAssertion State = "awaiting_passkey_assertion"
	StateAuthenticated            State = "authenticated"
)

// Method is a second-factor choice offered to the user.
type Method string

const (
	MethodCode    Method = "code"
	MethodPasskey Method = "passkey"
)

// PasskeyAuthenticator runs the login ceremony for a known account.
type PasskeyAuthenticator interface {
	BeginLogin(ctx context.Context, userID string) (passkey.Challenge, error)
	FinishLogin(ctx context.Context, sessionID string, response []byte) (string, error)
}

// Controller builds login and setup flows over the credential store.
type Controller struct {
	store      storage.CredentialStore
	passkeys   PasskeyAuthenticator
	totpWindow int
	newID      func() (string, error)
}

// NewController wires a flow controller. The window is how many 30-second
// periods either side of now a submitted code may match.
func NewController(store storage.CredentialStore, passkeys PasskeyAuthenticator, totpWindow int) *Controller {
	if totpWindow < 0 {
		totpWindow = 0
	}
	return &Controller{
		store:      store,
		passkeys:   passkeys,
		totpWindow: totpWindow,
		newID:      id.NewID,
	}
}

// Login is one login attempt. Methods mutate the attempt in place; failures
// keep the current state and return a typed error so the caller can
// re-prompt.
type Login struct {
	controller *Controller

	id     string
	state  State
	userID string
}

// NewLogin starts a login attempt at the password step.
func (c *Controller) NewLogin() (*Login, error) {
	flowID, err := c.newID()
	if err != nil {
		return nil, err
	}
	return &Login{controller: c, id: flowID, state: StateAwaitingPassword}, nil
}

// ID identifies the attempt for transport in an opaque cookie reference.
func (l *Login) ID() string { return l.id }

// State reports the current step.
func (l *Login) State() State { return l.state }

// UserID is set once the password step has passed.
func (l *Login) UserID() string { return l.userID }

// SubmitPassword checks the email and password against the stored profile.
// Unknown emails and wrong passwords both surface INVALID_CREDENTIALS
// without distinguishing the two. When the account has no enabled two-factor
// secret the attempt completes immediately.
func (l *Login) SubmitPassword(ctx context.Context, email, password string) error {
	if l.state != StateAwaitingPassword {
		return errors.New(errors.CodeFlowStateInvalid, "password already verified")
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return errors.New(errors.CodeInvalidCredentials, "email and password are required")
	}

	profile, err := l.controller.store.GetProfileByEmail(ctx, email)
	if err != nil {
		if err == storage.ErrNotFound {
			return errors.New(errors.CodeInvalidCredentials, "invalid email or password")
		}
		return errors.Wrap(errors.CodeStoreError, "load profile", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)) != nil {
		return errors.New(errors.CodeInvalidCredentials, "invalid email or password")
	}

	l.userID = profile.ID

	secret, err := l.controller.store.GetTwoFactor(ctx, profile.ID)
	if err != nil {
		if err == storage.ErrNotFound {
			l.state = StateAuthenticated
			return nil
		}
		return errors.Wrap(errors.CodeStoreError, "load two-factor secret", err)
	}
	if !secret.Enabled {
		l.state = StateAuthenticated
		return nil
	}
	l.state = StateAwaitingMethodChoice
	return nil
}

// MethodOptions lists the second-factor choices for the account. The code
// option is always offered; passkey only when at least one is stored.
func (l *Login) MethodOptions(ctx context.Context) ([]Method, error) {
	if l.state != StateAwaitingMethodChoice {
		return nil, errors.New(errors.CodeFlowStateInvalid, "method choice is not pending")
	}
	credentials, err := l.controller.store.ListPasskeys(ctx, l.userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStoreError, "list passkeys", err)
	}
	options := []Method{MethodCode}
	if len(credentials) > 0 {
		options = append(options, MethodPasskey)
	}
	return options, nil
}

// ChooseMethod commits to one of the offered options.
func (l *Login) ChooseMethod(ctx context.Context, method Method) error {
	options, err := l.MethodOptions(ctx)
	if err != nil {
		return err
	}
	for _, option := range options {
		if option == method {
			switch method {
			case MethodCode:
				l.state = StateAwaitingTOTPCode
			case MethodPasskey:
				l.state = StateAwaitingPasskeyAssertion
			}
			return nil
		}
	}
	return errors.New(errors.CodeInvalidInput, "method is not available for this account")
}

// SubmitCode checks a six-digit code against the account's secret. A
// mismatch stays at the code step with INVALID_CODE.
func (l *Login) SubmitCode(ctx context.Context, code string) error {
	if l.state != StateAwaitingTOTPCode {
		return errors.New(errors.CodeFlowStateInvalid, "code entry is not pending")
	}
	secret, err := l.controller.store.GetTwoFactor(ctx, l.userID)
	if err != nil {
		if err == storage.ErrNotFound {
			return errors.New(errors.CodeFlowStateInvalid, "account has no two-factor secret")
		}
		return errors.Wrap(errors.CodeStoreError, "load two-factor secret", err)
	}
	if !totp.Validate(secret.Secret, strings.TrimSpace(code), l.controller.totpWindow) {
		return errors.New(errors.CodeInvalidCode, "code does not match")
	}
	l.state = StateAuthenticated
	return nil
}

// BeginPasskey opens the assertion ceremony. NO_PASSKEYS and UNSUPPORTED
// fall the attempt back to the method choice.
func (l *Login) BeginPasskey(ctx context.Context) (passkey.Challenge, error) {
	if l.state != StateAwaitingPasskeyAssertion {
		return passkey.Challenge{}, errors.New(errors.CodeFlowStateInvalid, "passkey assertion is not pending")
	}
	challenge, err := l.controller.passkeys.BeginLogin(ctx, l.userID)
	if err != nil {
		switch errors.GetCode(err) {
		case errors.CodeNoPasskeys, errors.CodeUnsupported:
			l.state = StateAwaitingMethodChoice
		}
		return passkey.Challenge{}, err
	}
	return challenge, nil
}

// CompletePasskey verifies the browser's assertion. Verification failures
// and cancellations fall back to the method choice; a session resolving to a
// different account is rejected outright.
func (l *Login) CompletePasskey(ctx context.Context, sessionID string, response []byte) error {
	if l.state != StateAwaitingPasskeyAssertion {
		return errors.New(errors.CodeFlowStateInvalid, "passkey assertion is not pending")
	}
	userID, err := l.controller.passkeys.FinishLogin(ctx, sessionID, response)
	if err != nil {
		switch errors.GetCode(err) {
		case errors.CodeCancelled, errors.CodeUnsupported, errors.CodeInvalidCredentials, errors.CodeSessionExpired:
			l.state = StateAwaitingMethodChoice
		}
		return err
	}
	if userID != l.userID {
		l.state = StateAwaitingMethodChoice
		return errors.New(errors.CodeSessionMismatch, "assertion resolved to a different account")
	}
	l.state = StateAuthenticated
	return nil
}

// ReturnToMethodChoice steps back from a pending code or passkey challenge
// so the user can pick a different second factor. Calling it while the
// choice is already pending is a no-op.
func (l *Login) ReturnToMethodChoice() error {
	switch l.state {
	case StateAwaitingMethodChoice:
		return nil
	case StateAwaitingTOTPCode, StateAwaitingPasskeyAssertion:
		l.state = StateAwaitingMethodChoice
		return nil
	}
	return errors.New(errors.CodeFlowStateInvalid, "no second-factor step to return from")
}

// AbandonPasskey records a browser-side ceremony abort and returns the
// attempt to the method choice.
func (l *Login) AbandonPasskey() error {
	if l.state != StateAwaitingPasskeyAssertion {
		return errors.New(errors.CodeFlowStateInvalid, "passkey assertion is not pending")
	}
	l.state = StateAwaitingMethodChoice
	return nil
}

// Authenticated reports whether the attempt finished every required step.
func (l *Login) Authenticated() bool {
	return l.state == StateAuthenticated
}
