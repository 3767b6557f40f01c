package app

import (
	"net/http"
	"strings"

	"github.com/hallpass-id/hallpass/internal/auth/flow"
	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/platform/branding"
	"github.com/hallpass-id/hallpass/internal/platform/errors"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/web/platform/flash"
	"github.com/hallpass-id/hallpass/internal/web/platform/requestmeta"
	"github.com/hallpass-id/hallpass/internal/web/platform/sessioncookie"
	"github.com/hallpass-id/hallpass/internal/web/templates"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authenticatedUser(r); ok {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		notice, _ := flash.ReadAndClear(w, r)
		s.renderLogin(w, loginView{AppName: branding.AppName, Notice: notice})
	case http.MethodPost:
		s.handleLoginSubmit(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	login, err := s.controller.NewLogin()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := login.SubmitPassword(r.Context(), email, password); err != nil {
		s.renderLogin(w, loginView{AppName: branding.AppName, Email: email, Notice: noticeForError(err)})
		return
	}

	if login.Authenticated() {
		s.finalizeLogin(w, r, login)
		return
	}

	s.flows.PutLogin(login)
	sessioncookie.WriteVerification(w, r, login.ID())
	http.Redirect(w, r, "/auth/choose-2fa", http.StatusSeeOther)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.authenticatedUser(r); ok {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		notice, _ := flash.ReadAndClear(w, r)
		s.renderSignup(w, signupView{AppName: branding.AppName, Notice: notice})
	case http.MethodPost:
		s.handleSignupSubmit(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSignupSubmit(w http.ResponseWriter, r *http.Request) {
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	fullName := strings.TrimSpace(r.PostFormValue("full_name"))
	email := strings.TrimSpace(strings.ToLower(r.PostFormValue("email")))
	password := r.PostFormValue("password")

	view := signupView{AppName: branding.AppName, FullName: fullName, Email: email}
	if fullName == "" || email == "" || !strings.Contains(email, "@") || len(password) < 8 {
		view.Notice = noticeForError(errors.New(errors.CodeInvalidInput, "invalid signup input"))
		s.renderSignup(w, view)
		return
	}

	if _, err := s.store.GetProfileByEmail(r.Context(), email); err == nil {
		view.Notice = noticeForError(errors.New(errors.CodeEmailTaken, "email already registered"))
		s.renderSignup(w, view)
		return
	} else if err != storage.ErrNotFound {
		view.Notice = noticeForError(errors.Wrap(errors.CodeStoreError, "check email", err))
		s.renderSignup(w, view)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	userID, err := s.newID()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	now := s.clock().UTC()
	profile := storage.Profile{
		ID:           userID,
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.PutProfile(r.Context(), profile); err != nil {
		view.Notice = noticeForError(errors.Wrap(errors.CodeStoreError, "create profile", err))
		s.renderSignup(w, view)
		return
	}

	sessionID, err := s.mintWebSession(r, userID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	sessioncookie.Write(w, r, sessionID)
	flash.Write(w, r, flash.NoticeSuccess("Welcome to "+branding.AppName+". Consider enabling two-factor authentication."))
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requestmeta.HasSameOriginProof(r) {
		http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
		return
	}
	if sessionID, ok := sessioncookie.Read(r); ok {
		_ = s.webSessions.RevokeWebSession(r.Context(), sessionID, s.clock().UTC())
	}
	sessioncookie.Clear(w, r)
	sessioncookie.ClearVerification(w, r)
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (s *Server) handleChooseMethod(w http.ResponseWriter, r *http.Request) {
	login, ok := s.resumeLogin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		// The verify page links back here; step out of a pending
		// challenge instead of treating the revisit as a dead end.
		if err := login.ReturnToMethodChoice(); err != nil {
			s.failFlow(w, r, err)
			return
		}
		options, err := login.MethodOptions(r.Context())
		if err != nil {
			s.failFlow(w, r, err)
			return
		}
		notice, _ := flash.ReadAndClear(w, r)
		offerPasskey := false
		for _, option := range options {
			if option == flow.MethodPasskey {
				offerPasskey = true
			}
		}
		s.renderPage(w, "choose_2fa.html", chooseView{AppName: branding.AppName, OfferPasskey: offerPasskey, Notice: notice})
	case http.MethodPost:
		if !requestmeta.HasSameOriginProof(r) {
			http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		method := flow.Method(r.PostFormValue("method"))
		if err := login.ChooseMethod(r.Context(), method); err != nil {
			flash.Write(w, r, noticeForError(err))
			http.Redirect(w, r, "/auth/choose-2fa", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/auth/verify-2fa", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	login, ok := s.resumeLogin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if name := strings.TrimSpace(r.URL.Query().Get("cancel")); name != "" {
			err := passkey.MapCeremonyError(name)
			_ = login.AbandonPasskey()
			flash.Write(w, r, noticeForError(err))
			http.Redirect(w, r, "/auth/choose-2fa", http.StatusSeeOther)
			return
		}
		notice, _ := flash.ReadAndClear(w, r)
		switch login.State() {
		case flow.StateAwaitingTOTPCode:
			s.renderPage(w, "verify_2fa.html", verifyView{AppName: branding.AppName, Method: "code", Notice: notice})
		case flow.StateAwaitingPasskeyAssertion:
			s.renderPage(w, "verify_2fa.html", verifyView{AppName: branding.AppName, Method: "passkey", Notice: notice})
		case flow.StateAwaitingMethodChoice:
			http.Redirect(w, r, "/auth/choose-2fa", http.StatusSeeOther)
		default:
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		}
	case http.MethodPost:
		if !requestmeta.HasSameOriginProof(r) {
			http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if err := login.SubmitCode(r.Context(), r.PostFormValue("code")); err != nil {
			if errors.HasCode(err, errors.CodeInvalidCode) {
				flash.Write(w, r, noticeForError(err))
				http.Redirect(w, r, "/auth/verify-2fa", http.StatusSeeOther)
				return
			}
			s.failFlow(w, r, err)
			return
		}
		s.finalizeLogin(w, r, login)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	switch r.Method {
	case http.MethodGet:
		setup, err := s.resumeOrStartSetup(w, r, userID)
		if err != nil {
			flash.Write(w, r, noticeForError(err))
			http.Redirect(w, r, "/dashboard/settings", http.StatusSeeOther)
			return
		}
		notice, _ := flash.ReadAndClear(w, r)
		s.renderPage(w, "setup_2fa.html", setupView{
			AppName:         branding.AppName,
			Secret:          setup.Secret(),
			ProvisioningURI: setup.ProvisioningURI(),
			Notice:          notice,
		})
	case http.MethodPost:
		if !requestmeta.HasSameOriginProof(r) {
			http.Error(w, "cross-origin form submission rejected", http.StatusForbidden)
			return
		}
		flowID, ok := sessioncookie.ReadVerification(r)
		if !ok {
			http.Redirect(w, r, "/auth/setup-2fa", http.StatusSeeOther)
			return
		}
		setup, err := s.flows.GetSetup(flowID)
		if err != nil || setup.UserID() != userID {
			sessioncookie.ClearVerification(w, r)
			flash.Write(w, r, noticeForError(errors.New(errors.CodeSessionExpired, "setup attempt expired")))
			http.Redirect(w, r, "/auth/setup-2fa", http.StatusSeeOther)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if err := setup.Confirm(r.Context(), r.PostFormValue("code")); err != nil {
			flash.Write(w, r, noticeForError(err))
			http.Redirect(w, r, "/auth/setup-2fa", http.StatusSeeOther)
			return
		}
		s.flows.DropSetup(flowID)
		sessioncookie.ClearVerification(w, r)
		// Backup codes are rendered exactly once, on this response.
		s.renderPage(w, "setup_2fa.html", setupView{
			AppName:     branding.AppName,
			BackupCodes: setup.BackupCodes(),
			Notice:      flash.NoticeSuccess("Two-factor authentication enabled."),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) resumeOrStartSetup(w http.ResponseWriter, r *http.Request, userID string) (*flow.Setup, error) {
	if flowID, ok := sessioncookie.ReadVerification(r); ok {
		if setup, err := s.flows.GetSetup(flowID); err == nil && setup.UserID() == userID {
			return setup, nil
		}
	}
	setup, err := s.controller.NewSetup(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	s.flows.PutSetup(setup)
	sessioncookie.WriteVerification(w, r, setup.ID())
	return setup, nil
}

// resumeLogin loads the pending attempt referenced by the verification
// cookie, bouncing to the login page when it is gone.
func (s *Server) resumeLogin(w http.ResponseWriter, r *http.Request) (*flow.Login, bool) {
	flowID, ok := sessioncookie.ReadVerification(r)
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return nil, false
	}
	login, err := s.flows.GetLogin(flowID)
	if err != nil {
		sessioncookie.ClearVerification(w, r)
		flash.Write(w, r, noticeForError(err))
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return nil, false
	}
	return login, true
}

// finalizeLogin mints the durable session once the attempt has passed every
// required step.
func (s *Server) finalizeLogin(w http.ResponseWriter, r *http.Request, login *flow.Login) {
	if !login.Authenticated() {
		s.failFlow(w, r, errors.New(errors.CodeFlowStateInvalid, "login attempt incomplete"))
		return
	}
	sessionID, err := s.mintWebSession(r, login.UserID())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.flows.DropLogin(login.ID())
	sessioncookie.ClearVerification(w, r)
	sessioncookie.Write(w, r, sessionID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) mintWebSession(r *http.Request, userID string) (string, error) {
	sessionID, err := s.newID()
	if err != nil {
		return "", err
	}
	now := s.clock().UTC()
	err = s.webSessions.PutWebSession(r.Context(), storage.WebSession{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// failFlow abandons the attempt and restarts at the login page.
func (s *Server) failFlow(w http.ResponseWriter, r *http.Request, err error) {
	if flowID, ok := sessioncookie.ReadVerification(r); ok {
		s.flows.DropLogin(flowID)
	}
	sessioncookie.ClearVerification(w, r)
	flash.Write(w, r, noticeForError(err))
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (s *Server) renderLogin(w http.ResponseWriter, view loginView) {
	s.renderPage(w, "login.html", view)
}

func (s *Server) renderSignup(w http.ResponseWriter, view signupView) {
	s.renderPage(w, "signup.html", view)
}

func (s *Server) renderPage(w http.ResponseWriter, name string, view any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Render(w, name, view); err != nil {
		http.Error(w, "render page", http.StatusInternalServerError)
	}
}
