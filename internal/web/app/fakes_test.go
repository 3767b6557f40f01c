package app

import (
	"context"
	"testing"
	"time"

	"github.com/hallpass-id/hallpass/internal/auth/flow"
	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type memoryStore struct {
	profiles    map[string]storage.Profile
	secrets     map[string]storage.TwoFactorSecret
	credentials map[string][]storage.PasskeyCredential

	webSessions      map[string]storage.WebSession
	ceremonySessions map[string]storage.PasskeySession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		profiles:         make(map[string]storage.Profile),
		secrets:          make(map[string]storage.TwoFactorSecret),
		credentials:      make(map[string][]storage.PasskeyCredential),
		webSessions:      make(map[string]storage.WebSession),
		ceremonySessions: make(map[string]storage.PasskeySession),
	}
}

func (m *memoryStore) PutProfile(_ context.Context, profile storage.Profile) error {
	m.profiles[profile.ID] = profile
	return nil
}

func (m *memoryStore) GetProfile(_ context.Context, userID string) (storage.Profile, error) {
	profile, ok := m.profiles[userID]
	if !ok {
		return storage.Profile{}, storage.ErrNotFound
	}
	return profile, nil
}

func (m *memoryStore) GetProfileByEmail(_ context.Context, email string) (storage.Profile, error) {
	for _, profile := range m.profiles {
		if profile.Email == email {
			return profile, nil
		}
	}
	return storage.Profile{}, storage.ErrNotFound
}

func (m *memoryStore) GetTwoFactor(_ context.Context, userID string) (storage.TwoFactorSecret, error) {
	secret, ok := m.secrets[userID]
	if !ok {
		return storage.TwoFactorSecret{}, storage.ErrNotFound
	}
	return secret, nil
}

func (m *memoryStore) CreateTwoFactor(_ context.Context, secret storage.TwoFactorSecret) error {
	m.secrets[secret.UserID] = secret
	return nil
}

func (m *memoryStore) SetTwoFactorEnabled(_ context.Context, userID string, enabled bool) error {
	secret, ok := m.secrets[userID]
	if !ok {
		return storage.ErrNotFound
	}
	secret.Enabled = enabled
	m.secrets[userID] = secret
	return nil
}

func (m *memoryStore) ListPasskeys(_ context.Context, userID string) ([]storage.PasskeyCredential, error) {
	return m.credentials[userID], nil
}

func (m *memoryStore) GetPasskeyByCredentialID(_ context.Context, credentialID string) (storage.PasskeyCredential, error) {
	for _, records := range m.credentials {
		for _, record := range records {
			if record.CredentialID == credentialID {
				return record, nil
			}
		}
	}
	return storage.PasskeyCredential{}, storage.ErrNotFound
}

func (m *memoryStore) CreatePasskey(_ context.Context, credential storage.PasskeyCredential) error {
	m.credentials[credential.UserID] = append(m.credentials[credential.UserID], credential)
	return nil
}

func (m *memoryStore) UpdatePasskeyUsage(_ context.Context, _ string, _ uint32, _ time.Time, _ string) error {
	return nil
}

func (m *memoryStore) DeletePasskey(_ context.Context, id string) error {
	for userID, records := range m.credentials {
		kept := records[:0]
		for _, record := range records {
			if record.ID != id {
				kept = append(kept, record)
			}
		}
		m.credentials[userID] = kept
	}
	return nil
}

func (m *memoryStore) PutWebSession(_ context.Context, session storage.WebSession) error {
	m.webSessions[session.ID] = session
	return nil
}

func (m *memoryStore) GetWebSession(_ context.Context, id string) (storage.WebSession, error) {
	session, ok := m.webSessions[id]
	if !ok {
		return storage.WebSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (m *memoryStore) RevokeWebSession(_ context.Context, id string, revokedAt time.Time) error {
	session, ok := m.webSessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	session.RevokedAt = &revokedAt
	m.webSessions[id] = session
	return nil
}

func (m *memoryStore) DeleteExpiredWebSessions(_ context.Context, _ time.Time) error {
	return nil
}

func (m *memoryStore) PutPasskeySession(_ context.Context, session storage.PasskeySession) error {
	m.ceremonySessions[session.ID] = session
	return nil
}

func (m *memoryStore) GetPasskeySession(_ context.Context, id string) (storage.PasskeySession, error) {
	session, ok := m.ceremonySessions[id]
	if !ok {
		return storage.PasskeySession{}, storage.ErrNotFound
	}
	return session, nil
}

func (m *memoryStore) DeletePasskeySession(_ context.Context, id string) error {
	delete(m.ceremonySessions, id)
	return nil
}

func (m *memoryStore) DeleteExpiredPasskeySessions(_ context.Context, _ time.Time) error {
	return nil
}

type fakeGateway struct {
	beginLoginErr  error
	finishLoginErr error
	loginUserID    string

	beginRegistrationErr error
	registered           storage.PasskeyCredential
	deleted              []string
	deleteErr            error
}

func (f *fakeGateway) BeginLogin(_ context.Context, userID string) (passkey.Challenge, error) {
	if f.beginLoginErr != nil {
		return passkey.Challenge{}, f.beginLoginErr
	}
	return passkey.Challenge{SessionID: "ceremony-1", Options: []byte(`{"publicKey":{}}`)}, nil
}

func (f *fakeGateway) FinishLogin(_ context.Context, _ string, _ []byte) (string, error) {
	if f.finishLoginErr != nil {
		return "", f.finishLoginErr
	}
	return f.loginUserID, nil
}

func (f *fakeGateway) BeginRegistration(_ context.Context, userID, deviceName string) (passkey.Challenge, error) {
	if f.beginRegistrationErr != nil {
		return passkey.Challenge{}, f.beginRegistrationErr
	}
	return passkey.Challenge{SessionID: "ceremony-2", Options: []byte(`{"publicKey":{}}`)}, nil
}

func (f *fakeGateway) FinishRegistration(_ context.Context, _ string, _ []byte) (storage.PasskeyCredential, error) {
	return f.registered, nil
}

func (f *fakeGateway) Delete(_ context.Context, userID, passkeyID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, passkeyID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *memoryStore, *fakeGateway) {
	t.Helper()
	store := newMemoryStore()
	gateway := &fakeGateway{}
	controller := flow.NewController(store, gateway, 1)
	server := New(store, store, store, controller, gateway)
	return server, store, gateway
}

func seedAccount(t *testing.T, store *memoryStore, userID, email, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.profiles[userID] = storage.Profile{ID: userID, Email: email, FullName: "Test User", PasswordHash: string(hash)}
}
