package app

import (
	"net/http"
	"strings"

	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/platform/branding"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/web/platform/flash"
	"github.com/hallpass-id/hallpass/internal/web/platform/requestmeta"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := requestUserID(r)
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		http.Error(w, "load profile", http.StatusInternalServerError)
		return
	}
	notice, _ := flash.ReadAndClear(w, r)
	_, enabled := s.twoFactorState(r, userID)
	s.renderPage(w, "dashboard.html", dashboardView{
		AppName:          branding.AppName,
		FullName:         profile.FullName,
		Email:            profile.Email,
		TwoFactorEnabled: enabled,
		Notice:           notice,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := requestUserID(r)
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		http.Error(w, "load profile", http.StatusInternalServerError)
		return
	}
	passkeys, err := s.store.ListPasskeys(r.Context(), userID)
	if err != nil {
		http.Error(w, "load passkeys", http.StatusInternalServerError)
		return
	}

	notice, _ := flash.ReadAndClear(w, r)
	if name := strings.TrimSpace(r.URL.Query().Get("cancel")); name != "" {
		notice = noticeForError(passkey.MapCeremonyError(name))
	}
	configured, enabled := s.twoFactorState(r, userID)
	s.renderPage(w, "settings.html", settingsView{
		AppName:             branding.AppName,
		FullName:            profile.FullName,
		Email:               profile.Email,
		TwoFactorConfigured: configured,
		TwoFactorEnabled:    enabled,
		Passkeys:            passkeys,
		Notice:              notice,
	})
}

// handleTwoFactorToggle flips the enabled flag on an existing secret.
// Enabling an account that never completed setup routes to the setup flow
// instead.
func (s *Server) handleTwoFactorToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	userID := requestUserID(r)
	switch r.PostFormValue("action") {
	case "disable":
		if err := s.store.SetTwoFactorEnabled(r.Context(), userID, false); err != nil {
			flash.Write(w, r, noticeForError(err))
		} else {
			flash.Write(w, r, flash.Notice{Kind: flash.KindInfo, Message: "Two-factor authentication disabled."})
		}
	case "enable":
		if _, err := s.store.GetTwoFactor(r.Context(), userID); err == storage.ErrNotFound {
			http.Redirect(w, r, "/auth/setup-2fa", http.StatusSeeOther)
			return
		}
		if err := s.store.SetTwoFactorEnabled(r.Context(), userID, true); err != nil {
			flash.Write(w, r, noticeForError(err))
		} else {
			flash.Write(w, r, flash.NoticeSuccess("Two-factor authentication enabled."))
		}
	default:
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/dashboard/settings", http.StatusSeeOther)
}

func (s *Server) handlePasskeyDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	passkeyID := strings.TrimSpace(r.PostFormValue("passkey_id"))
	if err := s.passkeys.Delete(r.Context(), requestUserID(r), passkeyID); err != nil {
		flash.Write(w, r, noticeForError(err))
	} else {
		flash.Write(w, r, flash.NoticeSuccess("Passkey removed."))
	}
	http.Redirect(w, r, "/dashboard/settings", http.StatusSeeOther)
}

// twoFactorState reports whether the account has a stored secret and
// whether it is currently enabled.
func (s *Server) twoFactorState(r *http.Request, userID string) (configured, enabled bool) {
	secret, err := s.store.GetTwoFactor(r.Context(), userID)
	if err != nil {
		return false, false
	}
	return true, secret.Enabled
}
