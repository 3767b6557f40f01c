package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/platform/id"
	"github.com/hallpass-id/hallpass/internal/storage"
)

// provider abstracts the WebAuthn library for tests.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs WebAuthn registration and login ceremonies against the stored
// credential set. Assertions are verified server-side against the stored
// public key, and the signature counter is advanced after each login.
type Service struct {
	config      Config
	webAuthn    provider
	initErr     error
	parser      parser
	profiles    storage.ProfileStore
	credentials storage.PasskeyStore
	sessions    storage.PasskeySessionStore
	clock       func() time.Time
	newID       func() (string, error)
}

// NewService builds a passkey service with environment configuration.
func NewService(profiles storage.ProfileStore, credentials storage.PasskeyStore, sessions storage.PasskeySessionStore) *Service {
	config := LoadConfigFromEnv()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	return &Service{
		config:      config,
		webAuthn:    webAuthn,
		initErr:     err,
		parser:      defaultParser{},
		profiles:    profiles,
		credentials: credentials,
		sessions:    sessions,
		clock:       time.Now,
		newID:       id.NewID,
	}
}

// Challenge carries ceremony options to the browser plus the session handle
// the finish call must present.
type Challenge struct {
	SessionID string
	Options   json.RawMessage
}

type sessionEnvelope struct {
	Data       webauthn.SessionData `json:"data"`
	DeviceName string               `json:"device_name,omitempty"`
}

type ceremonyUser struct {
	profile     storage.Profile
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return []byte(u.profile.ID) }
func (u *ceremonyUser) WebAuthnName() string                       { return u.profile.Email }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.profile.FullName }
func (u *ceremonyUser) WebAuthnIcon() string                       { return "" }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// BeginRegistration opens a credential creation ceremony for the user. The
// device name is carried in the ceremony session and attached to the stored
// credential on finish.
func (s *Service) BeginRegistration(ctx context.Context, userID, deviceName string) (Challenge, error) {
	if err := s.ready(); err != nil {
		return Challenge{}, err
	}
	user, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		return Challenge{}, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationRequired,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
		}),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		}),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := s.webAuthn.BeginRegistration(user, options...)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey registration: %w", err)
	}
	return s.storeSession(ctx, SessionKindRegistration, userID, sessionData, deviceName, creation)
}

// FinishRegistration validates the browser's creation response and persists
// the new credential.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, response []byte) (storage.PasskeyCredential, error) {
	if err := s.ready(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	envelope, err := s.loadSession(ctx, sessionID, SessionKindRegistration)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}
	user, err := s.loadCeremonyUser(ctx, envelope.userID)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeInvalidInput, "parse credential response", err)
	}
	credential, err := s.webAuthn.CreateCredential(user, envelope.payload.Data, parsed)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeInvalidInput, "validate credential response", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return storage.PasskeyCredential{}, fmt.Errorf("encode credential: %w", err)
	}
	recordID, err := s.newID()
	if err != nil {
		return storage.PasskeyCredential{}, fmt.Errorf("generate passkey id: %w", err)
	}
	record := storage.PasskeyCredential{
		ID:             recordID,
		UserID:         envelope.userID,
		CredentialID:   EncodeCredentialID(credential.ID),
		PublicKey:      base64.StdEncoding.EncodeToString(credential.PublicKey),
		SignCount:      credential.Authenticator.SignCount,
		DeviceName:     envelope.payload.DeviceName,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.credentials.CreatePasskey(ctx, record); err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeStoreError, "store passkey credential", err)
	}
	_ = s.sessions.DeletePasskeySession(ctx, sessionID)
	return record, nil
}

// BeginLogin opens an assertion ceremony scoped to the user's stored
// credentials. Fails with NO_PASSKEYS when the account has none.
func (s *Service) BeginLogin(ctx context.Context, userID string) (Challenge, error) {
	if err := s.ready(); err != nil {
		return Challenge{}, err
	}
	user, err := s.loadCeremonyUser(ctx, userID)
	if err != nil {
		return Challenge{}, err
	}
	if len(user.credentials) == 0 {
		return Challenge{}, apperrors.New(apperrors.CodeNoPasskeys, "no passkeys registered for account")
	}

	assertion, sessionData, err := s.webAuthn.BeginLogin(user,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin passkey login: %w", err)
	}
	return s.storeSession(ctx, SessionKindLogin, userID, sessionData, "", assertion)
}

// FinishLogin verifies the browser's assertion against the stored public key
// and records the new signature counter. Returns the authenticated user id.
func (s *Service) FinishLogin(ctx context.Context, sessionID string, response []byte) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	envelope, err := s.loadSession(ctx, sessionID, SessionKindLogin)
	if err != nil {
		return "", err
	}
	user, err := s.loadCeremonyUser(ctx, envelope.userID)
	if err != nil {
		return "", err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidInput, "parse assertion response", err)
	}
	credential, err := s.webAuthn.ValidateLogin(user, envelope.payload.Data, parsed)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidCredentials, "validate passkey assertion", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	now := s.clock().UTC()
	err = s.credentials.UpdatePasskeyUsage(ctx, EncodeCredentialID(credential.ID), credential.Authenticator.SignCount, now, string(credentialJSON))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStoreError, "record passkey usage", err)
	}
	_ = s.sessions.DeletePasskeySession(ctx, sessionID)
	return envelope.userID, nil
}

// Delete removes one of the user's own credentials.
func (s *Service) Delete(ctx context.Context, userID, passkeyID string) error {
	records, err := s.credentials.ListPasskeys(ctx, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreError, "list passkeys", err)
	}
	for _, record := range records {
		if record.ID == passkeyID {
			if err := s.credentials.DeletePasskey(ctx, passkeyID); err != nil {
				return apperrors.Wrap(apperrors.CodeStoreError, "delete passkey", err)
			}
			return nil
		}
	}
	return apperrors.New(apperrors.CodeNotFound, "passkey not found for account")
}

// MapCeremonyError translates a browser-reported ceremony failure name into
// the domain taxonomy.
func MapCeremonyError(name string) error {
	switch strings.TrimSpace(name) {
	case "NotSupportedError", "SecurityError", "unsupported":
		return apperrors.New(apperrors.CodeUnsupported, "platform lacks webauthn support")
	case "NotAllowedError", "AbortError", "":
		return apperrors.New(apperrors.CodeCancelled, "ceremony cancelled by user")
	default:
		return apperrors.WithMetadata(apperrors.CodeCancelled, "ceremony failed", map[string]string{"name": name})
	}
}

// EncodeCredentialID encodes a raw credential id the way it is stored.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func (s *Service) ready() error {
	if s.initErr != nil || s.webAuthn == nil {
		return apperrors.Wrap(apperrors.CodeUnsupported, "passkey configuration is not available", s.initErr)
	}
	if s.profiles == nil || s.credentials == nil || s.sessions == nil {
		return fmt.Errorf("passkey stores are not configured")
	}
	return nil
}

func (s *Service) loadCeremonyUser(ctx context.Context, userID string) (*ceremonyUser, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "user id is required")
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, apperrors.New(apperrors.CodeNotFound, "account not found")
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreError, "load profile", err)
	}
	records, err := s.credentials.ListPasskeys(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreError, "list passkeys", err)
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &ceremonyUser{profile: profile, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func (s *Service) storeSession(ctx context.Context, kind SessionKind, userID string, data *webauthn.SessionData, deviceName string, options any) (Challenge, error) {
	if data == nil {
		return Challenge{}, fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(sessionEnvelope{Data: *data, DeviceName: deviceName})
	if err != nil {
		return Challenge{}, fmt.Errorf("encode ceremony session: %w", err)
	}
	sessionID, err := s.newID()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate ceremony session id: %w", err)
	}
	err = s.sessions.PutPasskeySession(ctx, storage.PasskeySession{
		ID:          sessionID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   s.clock().UTC().Add(s.config.SessionTTL),
	})
	if err != nil {
		return Challenge{}, apperrors.Wrap(apperrors.CodeStoreError, "store ceremony session", err)
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return Challenge{}, fmt.Errorf("encode ceremony options: %w", err)
	}
	return Challenge{SessionID: sessionID, Options: optionsJSON}, nil
}

type loadedSession struct {
	payload sessionEnvelope
	userID  string
}

func (s *Service) loadSession(ctx context.Context, sessionID string, expected SessionKind) (loadedSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return loadedSession{}, apperrors.New(apperrors.CodeInvalidInput, "session id is required")
	}
	stored, err := s.sessions.GetPasskeySession(ctx, sessionID)
	if err != nil {
		if err == storage.ErrNotFound {
			return loadedSession{}, apperrors.New(apperrors.CodeNotFound, "ceremony session not found")
		}
		return loadedSession{}, apperrors.Wrap(apperrors.CodeStoreError, "load ceremony session", err)
	}
	if stored.Kind != string(expected) {
		return loadedSession{}, apperrors.New(apperrors.CodeSessionMismatch, "ceremony session kind mismatch")
	}
	if stored.ExpiresAt.Before(s.clock().UTC()) {
		_ = s.sessions.DeletePasskeySession(ctx, sessionID)
		return loadedSession{}, apperrors.New(apperrors.CodeSessionExpired, "ceremony session expired")
	}
	var envelope sessionEnvelope
	if err := json.Unmarshal([]byte(stored.SessionJSON), &envelope); err != nil {
		return loadedSession{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return loadedSession{payload: envelope, userID: stored.UserID}, nil
}
