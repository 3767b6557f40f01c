package flow

import (
	"context"
	"testing"
	"time"

	ptotp "github.com/pquerna/otp/totp"

	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/auth/totp"
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	profiles    map[string]storage.Profile
	secrets     map[string]storage.TwoFactorSecret
	credentials map[string][]storage.PasskeyCredential
	createErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[string]storage.Profile),
		secrets:     make(map[string]storage.TwoFactorSecret),
		credentials: make(map[string][]storage.PasskeyCredential),
	}
}

func (s *fakeStore) PutProfile(_ context.Context, profile storage.Profile) error {
	s.profiles[profile.ID] = profile
	return nil
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (storage.Profile, error) {
	profile, ok := s.profiles[userID]
	if !ok {
		return storage.Profile{}, storage.ErrNotFound
	}
	return profile, nil
}

func (s *fakeStore) GetProfileByEmail(_ context.Context, email string) (storage.Profile, error) {
	for _, profile := range s.profiles {
		if profile.Email == email {
			return profile, nil
		}
	}
	return storage.Profile{}, storage.ErrNotFound
}

func (s *fakeStore) GetTwoFactor(_ context.Context, userID string) (storage.TwoFactorSecret, error) {
	secret, ok := s.secrets[userID]
	if !ok {
		return storage.TwoFactorSecret{}, storage.ErrNotFound
	}
	return secret, nil
}

func (s *fakeStore) CreateTwoFactor(_ context.Context, secret storage.TwoFactorSecret) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.secrets[secret.UserID] = secret
	return nil
}

func (s *fakeStore) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	secret, ok := s.secrets[userID]
	if !ok {
		return storage.ErrNotFound
	}
	secret.Enabled = enabled
	s.secrets[userID] = secret
	return nil
}

func (s *fakeStore) ListPasskeys(_ context.Context, userID string) ([]storage.PasskeyCredential, error) {
	return s.credentials[userID], nil
}

func (s *fakeStore) GetPasskeyByCredentialID(_ context.Context, credentialID string) (storage.PasskeyCredential, error) {
	for _, records := range s.credentials {
		for _, record := range records {
			if record.CredentialID == credentialID {
				return record, nil
			}
		}
	}
	return storage.PasskeyCredential{}, storage.ErrNotFound
}

func (s *fakeStore) CreatePasskey(_ context.Context, credential storage.PasskeyCredential) error {
	s.credentials[credential.UserID] = append(s.credentials[credential.UserID], credential)
	return nil
}

func (s *fakeStore) UpdatePasskeyUsage(_ context.Context, _ string, _ uint32, _ time.Time, _ string) error {
	return nil
}

func (s *fakeStore) DeletePasskey(_ context.Context, _ string) error {
	return nil
}

type fakeAuthenticator struct {
	beginErr  error
	finishErr error
	userID    string
}

func (f *fakeAuthenticator) BeginLogin(_ context.Context, userID string) (passkey.Challenge, error) {
	if f.beginErr != nil {
		return passkey.Challenge{}, f.beginErr
	}
	return passkey.Challenge{SessionID: "ceremony-1", Options: []byte(`{}`)}, nil
}

func (f *fakeAuthenticator) FinishLogin(_ context.Context, _ string, _ []byte) (string, error) {
	if f.finishErr != nil {
		return "", f.finishErr
	}
	return f.userID, nil
}

func seedProfile(t *testing.T, store *fakeStore, userID, email, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.profiles[userID] = storage.Profile{ID: userID, Email: email, PasswordHash: string(hash)}
}

func seedSecret(t *testing.T, store *fakeStore, userID string, enabled bool) string {
	t.Helper()
	secret, err := totp.GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	store.secrets[userID] = storage.TwoFactorSecret{ID: "2fa-1", UserID: userID, Secret: secret, Enabled: enabled}
	return secret
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := ptotp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func startLogin(t *testing.T, c *Controller) *Login {
	t.Helper()
	login, err := c.NewLogin()
	if err != nil {
		t.Fatalf("new login: %v", err)
	}
	return login
}

func TestLoginWithoutTwoFactorCompletesImmediately(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	if err := login.SubmitPassword(context.Background(), "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	if !login.Authenticated() {
		t.Fatalf("expected authenticated, got state %q", login.State())
	}
	if login.UserID() != "user-1" {
		t.Fatalf("expected user id carried, got %q", login.UserID())
	}
}

func TestLoginWrongPasswordStays(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	err := login.SubmitPassword(context.Background(), "alpha@example.com", "wrong")
	if !errors.HasCode(err, errors.CodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", err)
	}
	if login.State() != StateAwaitingPassword {
		t.Fatalf("expected flow to stay at password step, got %q", login.State())
	}

	// Unknown email reads the same as a wrong password.
	err = login.SubmitPassword(context.Background(), "ghost@example.com", "hunter22")
	if !errors.HasCode(err, errors.CodeInvalidCredentials) {
		t.Fatalf("expected INVALID_CREDENTIALS for unknown email, got %v", err)
	}
}

func TestLoginWithCodeSecondFactor(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	secret := seedSecret(t, store, "user-1", true)

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	ctx := context.Background()
	if err := login.SubmitPassword(ctx, "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	if login.State() != StateAwaitingMethodChoice {
		t.Fatalf("expected method choice, got %q", login.State())
	}

	options, err := login.MethodOptions(ctx)
	if err != nil {
		t.Fatalf("method options: %v", err)
	}
	if len(options) != 1 || options[0] != MethodCode {
		t.Fatalf("expected only the code option, got %v", options)
	}
	if err := login.ChooseMethod(ctx, MethodPasskey); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected passkey choice rejected, got %v", err)
	}
	if err := login.ChooseMethod(ctx, MethodCode); err != nil {
		t.Fatalf("choose code: %v", err)
	}

	code := currentCode(t, secret)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := login.SubmitCode(ctx, wrong); !errors.HasCode(err, errors.CodeInvalidCode) {
		t.Fatalf("expected INVALID_CODE, got %v", err)
	}
	if login.State() != StateAwaitingTOTPCode {
		t.Fatalf("expected flow to stay at code step, got %q", login.State())
	}
	if err := login.SubmitCode(ctx, code); err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if !login.Authenticated() {
		t.Fatalf("expected authenticated, got %q", login.State())
	}
}

func TestDisabledSecretSkipsSecondFactor(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	seedSecret(t, store, "user-1", false)

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	if err := login.SubmitPassword(context.Background(), "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	if !login.Authenticated() {
		t.Fatalf("expected authenticated, got %q", login.State())
	}
}

func TestLoginWithPasskeySecondFactor(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	seedSecret(t, store, "user-1", true)
	store.credentials["user-1"] = []storage.PasskeyCredential{{ID: "pk-1", UserID: "user-1", CredentialID: "cred"}}

	login := startLogin(t, NewController(store, &fakeAuthenticator{userID: "user-1"}, 1))
	ctx := context.Background()
	if err := login.SubmitPassword(ctx, "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}

	options, err := login.MethodOptions(ctx)
	if err != nil {
		t.Fatalf("method options: %v", err)
	}
	if len(options) != 2 || options[1] != MethodPasskey {
		t.Fatalf("expected passkey offered, got %v", options)
	}
	if err := login.ChooseMethod(ctx, MethodPasskey); err != nil {
		t.Fatalf("choose passkey: %v", err)
	}

	challenge, err := login.BeginPasskey(ctx)
	if err != nil {
		t.Fatalf("begin passkey: %v", err)
	}
	if challenge.SessionID == "" {
		t.Fatalf("expected ceremony session id")
	}
	if err := login.CompletePasskey(ctx, challenge.SessionID, []byte(`{}`)); err != nil {
		t.Fatalf("complete passkey: %v", err)
	}
	if !login.Authenticated() {
		t.Fatalf("expected authenticated, got %q", login.State())
	}
}

func TestPasskeyCancelFallsBackToMethodChoice(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	seedSecret(t, store, "user-1", true)
	store.credentials["user-1"] = []storage.PasskeyCredential{{ID: "pk-1", UserID: "user-1", CredentialID: "cred"}}

	authenticator := &fakeAuthenticator{finishErr: errors.New(errors.CodeCancelled, "ceremony cancelled by user")}
	login := startLogin(t, NewController(store, authenticator, 1))
	ctx := context.Background()
	if err := login.SubmitPassword(ctx, "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	if err := login.ChooseMethod(ctx, MethodPasskey); err != nil {
		t.Fatalf("choose passkey: %v", err)
	}
	if _, err := login.BeginPasskey(ctx); err != nil {
		t.Fatalf("begin passkey: %v", err)
	}
	err := login.CompletePasskey(ctx, "ceremony-1", []byte(`{}`))
	if !errors.HasCode(err, errors.CodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if login.State() != StateAwaitingMethodChoice {
		t.Fatalf("expected fall back to method choice, got %q", login.State())
	}

	// The user can still finish with a code after backing out.
	if err := login.ChooseMethod(ctx, MethodCode); err != nil {
		t.Fatalf("choose code after fallback: %v", err)
	}
}

func TestPasskeyUserMismatchRejected(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	seedSecret(t, store, "user-1", true)
	store.credentials["user-1"] = []storage.PasskeyCredential{{ID: "pk-1", UserID: "user-1", CredentialID: "cred"}}

	login := startLogin(t, NewController(store, &fakeAuthenticator{userID: "user-2"}, 1))
	ctx := context.Background()
	if err := login.SubmitPassword(ctx, "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}
	if err := login.ChooseMethod(ctx, MethodPasskey); err != nil {
		t.Fatalf("choose passkey: %v", err)
	}
	err := login.CompletePasskey(ctx, "ceremony-1", []byte(`{}`))
	if !errors.HasCode(err, errors.CodeSessionMismatch) {
		t.Fatalf("expected SESSION_MISMATCH, got %v", err)
	}
	if login.Authenticated() {
		t.Fatalf("expected flow not authenticated")
	}
}

func TestReturnToMethodChoiceFromChallenge(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")
	secret := seedSecret(t, store, "user-1", true)
	store.credentials["user-1"] = []storage.PasskeyCredential{{ID: "pk-1", UserID: "user-1", CredentialID: "cred"}}

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	ctx := context.Background()
	if err := login.SubmitPassword(ctx, "alpha@example.com", "hunter22"); err != nil {
		t.Fatalf("submit password: %v", err)
	}

	// Backing out of the code step keeps the attempt alive.
	if err := login.ChooseMethod(ctx, MethodCode); err != nil {
		t.Fatalf("choose code: %v", err)
	}
	if err := login.ReturnToMethodChoice(); err != nil {
		t.Fatalf("return from code step: %v", err)
	}
	if login.State() != StateAwaitingMethodChoice {
		t.Fatalf("expected method choice, got %q", login.State())
	}

	// Same from the passkey step, and a repeat call is harmless.
	if err := login.ChooseMethod(ctx, MethodPasskey); err != nil {
		t.Fatalf("choose passkey: %v", err)
	}
	if err := login.ReturnToMethodChoice(); err != nil {
		t.Fatalf("return from passkey step: %v", err)
	}
	if err := login.ReturnToMethodChoice(); err != nil {
		t.Fatalf("repeat return: %v", err)
	}

	// The flow can still complete with a code afterwards.
	if err := login.ChooseMethod(ctx, MethodCode); err != nil {
		t.Fatalf("choose code after return: %v", err)
	}
	if err := login.SubmitCode(ctx, currentCode(t, secret)); err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if !login.Authenticated() {
		t.Fatalf("expected authenticated, got %q", login.State())
	}
}

func TestReturnToMethodChoiceBeforePassword(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	if err := login.ReturnToMethodChoice(); !errors.HasCode(err, errors.CodeFlowStateInvalid) {
		t.Fatalf("expected FLOW_STATE_INVALID before password, got %v", err)
	}
}

func TestOutOfOrderStepsRejected(t *testing.T) {
	store := newFakeStore()
	seedProfile(t, store, "user-1", "alpha@example.com", "hunter22")

	login := startLogin(t, NewController(store, &fakeAuthenticator{}, 1))
	ctx := context.Background()

	if err := login.SubmitCode(ctx, "123456"); !errors.HasCode(err, errors.CodeFlowStateInvalid) {
		t.Fatalf("expected FLOW_STATE_INVALID before password, got %v", err)
	}
	if _, err := login.MethodOptions(ctx); !errors.HasCode(err, errors.CodeFlowStateInvalid) {
		t.Fatalf("expected FLOW_STATE_INVALID for options before password, got %v", err)
	}
	if _, err := login.BeginPasskey(ctx); !errors.HasCode(err, errors.CodeFlowStateInvalid) {
		t.Fatalf("expected FLOW_STATE_INVALID for passkey before password, got %v", err)
	}
}
