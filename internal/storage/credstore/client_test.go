package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		ServiceKey: "test-key",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestGetTwoFactorDecodesRow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user_2fa" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "eq.user-1" {
			t.Errorf("user_id filter = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"id":           "2fa-1",
			"user_id":      "user-1",
			"secret":       "JBSWY3DPEHPK3PXP",
			"enabled":      true,
			"backup_codes": []string{"1111-2222"},
			"created_at":   "2026-01-02T10:00:00Z",
			"updated_at":   "2026-01-02T10:00:00Z",
		}})
	})

	record, err := client.GetTwoFactor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get two-factor: %v", err)
	}
	if record.Secret != "JBSWY3DPEHPK3PXP" || !record.Enabled {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(record.BackupCodes) != 1 {
		t.Fatalf("backup codes = %v", record.BackupCodes)
	}
}

func TestGetTwoFactorAbsent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	if _, err := client.GetTwoFactor(context.Background(), "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreErrorSurfacesBackendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"connection pool exhausted"}`))
	})

	_, err := client.ListPasskeys(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected store error")
	}
	if apperrors.GetCode(err) != apperrors.CodeStoreError {
		t.Fatalf("code = %q, want STORE_ERROR", apperrors.GetCode(err))
	}
	var domain *apperrors.Error
	if !errors.As(err, &domain) {
		t.Fatal("expected domain error")
	}
	if domain.Metadata["status"] != "503" {
		t.Fatalf("status metadata = %q", domain.Metadata["status"])
	}
}

func TestSetTwoFactorEnabledPatchesByUser(t *testing.T) {
	var gotMethod string
	var gotPatch map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotPatch)
		_, _ = w.Write([]byte(`[{"id":"2fa-1"}]`))
	})

	if err := client.SetTwoFactorEnabled(context.Background(), "user-1", false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method = %q, want PATCH", gotMethod)
	}
	if enabled, ok := gotPatch["enabled"].(bool); !ok || enabled {
		t.Fatalf("patch enabled = %v", gotPatch["enabled"])
	}
}

func TestSetTwoFactorEnabledNoRowMatched(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	if err := client.SetTwoFactorEnabled(context.Background(), "user-1", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPasskeysOrdersByCreation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "created_at.asc" {
			t.Errorf("order = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"id":              "pk-1",
			"user_id":         "user-1",
			"credential_id":   "cred-1",
			"public_key":      "cHVibGlj",
			"counter":         3,
			"device_name":     "Phone",
			"credential_json": "{}",
			"created_at":      "2026-01-02T10:00:00Z",
			"last_used_at":    "2026-01-03T10:00:00Z",
		}})
	})

	credentials, err := client.ListPasskeys(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list passkeys: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(credentials))
	}
	if credentials[0].SignCount != 3 {
		t.Fatalf("sign count = %d", credentials[0].SignCount)
	}
	if credentials[0].LastUsedAt == nil {
		t.Fatal("expected last-used timestamp")
	}
}

func TestDeletePasskeyNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q", r.Method)
		}
		_, _ = w.Write([]byte("[]"))
	})
	if err := client.DeletePasskey(context.Background(), "pk-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePasskeyRemovesRow(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "eq.pk-1" {
			t.Errorf("id filter = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":"pk-1"}]`))
	})
	if err := client.DeletePasskey(context.Background(), "pk-1"); err != nil {
		t.Fatalf("delete passkey: %v", err)
	}
}

func TestCreatePasskeySendsRow(t *testing.T) {
	var gotRow map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotRow)
		w.WriteHeader(http.StatusCreated)
	})

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	err := client.CreatePasskey(context.Background(), storage.PasskeyCredential{
		ID:             "pk-1",
		UserID:         "user-1",
		CredentialID:   "cred-1",
		PublicKey:      "cHVibGlj",
		DeviceName:     "Work laptop",
		CredentialJSON: "{}",
		CreatedAt:      now,
	})
	if err != nil {
		t.Fatalf("create passkey: %v", err)
	}
	if gotRow["credential_id"] != "cred-1" || gotRow["device_name"] != "Work laptop" {
		t.Fatalf("unexpected row %v", gotRow)
	}
}
