// Package sessioncookie centralizes web session cookie behavior.
//
// Two cookies exist: the durable session cookie minted once a login attempt
// reaches its final step, and the short-lived verification cookie that
// references an in-flight attempt server-side while a second factor is
// pending. Both hold opaque ids only.
package sessioncookie

import (
	"net/http"
	"strings"

	"github.com/hallpass-id/hallpass/internal/web/platform/requestmeta"
)

// Name is the canonical web session cookie name.
const Name = "hallpass_session"

// VerificationName is the pending login attempt cookie name.
const VerificationName = "hallpass_verification"

// Read returns the trimmed session cookie value when present.
func Read(r *http.Request) (string, bool) {
	return readCookie(r, Name)
}

// Write sets the session cookie for the current request context.
func Write(w http.ResponseWriter, r *http.Request, sessionID string) {
	WriteWithPolicy(w, r, sessionID, requestmeta.SchemePolicy{})
}

// WriteWithPolicy sets the session cookie for the current request context.
func WriteWithPolicy(w http.ResponseWriter, r *http.Request, sessionID string, policy requestmeta.SchemePolicy) {
	writeCookie(w, r, Name, sessionID, policy)
}

// Clear expires the session cookie for the current request context.
func Clear(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, Name, requestmeta.SchemePolicy{})
}

// ReadVerification returns the pending attempt reference when present.
func ReadVerification(r *http.Request) (string, bool) {
	return readCookie(r, VerificationName)
}

// WriteVerification sets the pending attempt cookie.
func WriteVerification(w http.ResponseWriter, r *http.Request, flowID string) {
	writeCookie(w, r, VerificationName, flowID, requestmeta.SchemePolicy{})
}

// ClearVerification expires the pending attempt cookie.
func ClearVerification(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, VerificationName, requestmeta.SchemePolicy{})
}

func readCookie(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func writeCookie(w http.ResponseWriter, r *http.Request, name, value string, policy requestmeta.SchemePolicy) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    strings.TrimSpace(value),
		Path:     "/",
		HttpOnly: true,
		Secure:   requestmeta.IsHTTPSWithPolicy(r, policy),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string, policy requestmeta.SchemePolicy) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestmeta.IsHTTPSWithPolicy(r, policy),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
