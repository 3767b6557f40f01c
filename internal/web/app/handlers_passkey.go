package app

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/hallpass-id/hallpass/internal/auth/flow"
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/web/platform/requestmeta"
	"github.com/hallpass-id/hallpass/internal/web/platform/sessioncookie"
)

// Ceremony payloads keep the raw browser response opaque; the passkey
// service parses and verifies it.
type ceremonyBeginResponse struct {
	SessionID string          `json:"session_id"`
	Options   json.RawMessage `json:"options"`
}

type ceremonyFinishRequest struct {
	SessionID string          `json:"session_id"`
	Response  json.RawMessage `json:"response"`
}

type registerBeginRequest struct {
	DeviceName string `json:"device_name"`
}

const maxCeremonyBody = 64 << 10

// ceremonyRequest admits only same-origin POSTs; fetch ceremony calls get
// the same cross-site guard as the form handlers.
func ceremonyRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin request rejected", http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) handlePasskeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	if !ceremonyRequest(w, r) {
		return
	}
	login, ok := s.resumeLoginJSON(w, r)
	if !ok {
		return
	}
	challenge, err := login.BeginPasskey(r.Context())
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyBeginResponse{SessionID: challenge.SessionID, Options: challenge.Options})
}

func (s *Server) handlePasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	if !ceremonyRequest(w, r) {
		return
	}
	login, ok := s.resumeLoginJSON(w, r)
	if !ok {
		return
	}
	var request ceremonyFinishRequest
	if err := decodeCeremonyBody(r, &request); err != nil {
		writeJSONError(w, err)
		return
	}
	if err := login.CompletePasskey(r.Context(), request.SessionID, request.Response); err != nil {
		writeJSONError(w, err)
		return
	}

	sessionID, err := s.mintWebSession(r, login.UserID())
	if err != nil {
		writeJSONError(w, errors.Wrap(errors.CodeStoreError, "mint web session", err))
		return
	}
	s.flows.DropLogin(login.ID())
	sessioncookie.ClearVerification(w, r)
	sessioncookie.Write(w, r, sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/dashboard"})
}

func (s *Server) handlePasskeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if !ceremonyRequest(w, r) {
		return
	}
	var request registerBeginRequest
	if err := decodeCeremonyBody(r, &request); err != nil {
		writeJSONError(w, err)
		return
	}
	challenge, err := s.passkeys.BeginRegistration(r.Context(), requestUserID(r), request.DeviceName)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyBeginResponse{SessionID: challenge.SessionID, Options: challenge.Options})
}

func (s *Server) handlePasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if !ceremonyRequest(w, r) {
		return
	}
	var request ceremonyFinishRequest
	if err := decodeCeremonyBody(r, &request); err != nil {
		writeJSONError(w, err)
		return
	}
	record, err := s.passkeys.FinishRegistration(r.Context(), request.SessionID, request.Response)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	if record.UserID != requestUserID(r) {
		writeJSONError(w, errors.New(errors.CodeSessionMismatch, "ceremony belongs to a different account"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"passkey_id": record.ID})
}

// resumeLoginJSON is resumeLogin for fetch endpoints: errors come back as
// JSON instead of redirects.
func (s *Server) resumeLoginJSON(w http.ResponseWriter, r *http.Request) (*flow.Login, bool) {
	flowID, found := sessioncookie.ReadVerification(r)
	if !found {
		writeJSONError(w, errors.New(errors.CodeSessionExpired, "no pending login attempt"))
		return nil, false
	}
	attempt, err := s.flows.GetLogin(flowID)
	if err != nil {
		writeJSONError(w, err)
		return nil, false
	}
	return attempt, true
}

func decodeCeremonyBody(r *http.Request, into any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCeremonyBody))
	if err != nil {
		return errors.Wrap(errors.CodeInvalidInput, "read request body", err)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return errors.Wrap(errors.CodeInvalidInput, "decode request body", err)
	}
	return nil
}
