package app

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hallpass-id/hallpass/internal/platform/errors"
)

type contextKey string

const userIDKey contextKey = "user_id"

// requirePage guards an HTML route behind a live web session, redirecting
// anonymous requests to the login page.
func (s *Server) requirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authenticatedUser(r)
		if !ok {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// requireJSON guards a ceremony endpoint behind a live web session with a
// JSON 401 instead of a redirect.
func (s *Server) requireJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.authenticatedUser(r)
		if !ok {
			writeJSONError(w, errors.New(errors.CodeInvalidCredentials, "authentication required"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

type jsonError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	message := "request failed"
	if domain, ok := err.(*errors.Error); ok {
		message = domain.Message
	}
	writeJSON(w, code.HTTPStatus(), jsonError{Code: string(code), Message: message})
}
