// Package app wires the HTTP surface: auth pages, passkey ceremony
// endpoints, and the session-protected dashboard.
package app

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/hallpass-id/hallpass/internal/auth/flow"
	"github.com/hallpass-id/hallpass/internal/auth/passkey"
	"github.com/hallpass-id/hallpass/internal/platform/id"
	"github.com/hallpass-id/hallpass/internal/storage"
	"github.com/hallpass-id/hallpass/internal/web/platform/sessioncookie"
)

const defaultWebSessionTTL = 7 * 24 * time.Hour

// PasskeyManager runs registration ceremonies and credential removal for a
// signed-in account.
type PasskeyManager interface {
	BeginRegistration(ctx context.Context, userID, deviceName string) (passkey.Challenge, error)
	FinishRegistration(ctx context.Context, sessionID string, response []byte) (storage.PasskeyCredential, error)
	Delete(ctx context.Context, userID, passkeyID string) error
}

// Server hosts the web front-end.
type Server struct {
	store       storage.CredentialStore
	webSessions storage.WebSessionStore
	ceremonies  storage.PasskeySessionStore
	controller  *flow.Controller
	flows       *flow.Registry
	passkeys    PasskeyManager

	sessionTTL time.Duration
	clock      func() time.Time
	newID      func() (string, error)
}

// New wires a web server over the credential store and auth services.
func New(store storage.CredentialStore, webSessions storage.WebSessionStore, ceremonies storage.PasskeySessionStore, controller *flow.Controller, passkeys PasskeyManager) *Server {
	return &Server{
		store:       store,
		webSessions: webSessions,
		ceremonies:  ceremonies,
		controller:  controller,
		flows:       flow.NewRegistry(flow.DefaultFlowTTL),
		passkeys:    passkeys,
		sessionTTL:  defaultWebSessionTTL,
		clock:       time.Now,
		newID:       id.NewID,
	}
}

// RegisterRoutes registers all web endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/signup", s.handleSignup)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/auth/choose-2fa", s.handleChooseMethod)
	mux.HandleFunc("/auth/verify-2fa", s.handleVerify)
	mux.HandleFunc("/auth/setup-2fa", s.requirePage(s.handleSetup))
	mux.HandleFunc("/auth/passkey/login/begin", s.handlePasskeyLoginBegin)
	mux.HandleFunc("/auth/passkey/login/finish", s.handlePasskeyLoginFinish)
	mux.HandleFunc("/dashboard", s.requirePage(s.handleDashboard))
	mux.HandleFunc("/dashboard/settings", s.requirePage(s.handleSettings))
	mux.HandleFunc("/dashboard/settings/2fa", s.requirePage(s.handleTwoFactorToggle))
	mux.HandleFunc("/dashboard/settings/passkeys/begin", s.requireJSON(s.handlePasskeyRegisterBegin))
	mux.HandleFunc("/dashboard/settings/passkeys/finish", s.requireJSON(s.handlePasskeyRegisterFinish))
	mux.HandleFunc("/dashboard/settings/passkeys/delete", s.requirePage(s.handlePasskeyDelete))
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.authenticatedUser(r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

// Serve runs the web server on addr until the context ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{Handler: mux}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.StartCleanup(serverCtx, 5*time.Minute)

	log.Printf("web server listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// StartCleanup drops expired web sessions and ceremony sessions on an
// interval until the context ends.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := s.clock().UTC()
				if err := s.webSessions.DeleteExpiredWebSessions(ctx, now); err != nil {
					log.Printf("cleanup web sessions: %v", err)
				}
				if err := s.ceremonies.DeleteExpiredPasskeySessions(ctx, now); err != nil {
					log.Printf("cleanup ceremony sessions: %v", err)
				}
			}
		}
	}()
}

// authenticatedUser resolves the web session cookie to a live session.
func (s *Server) authenticatedUser(r *http.Request) (string, bool) {
	sessionID, ok := sessioncookie.Read(r)
	if !ok {
		return "", false
	}
	session, err := s.webSessions.GetWebSession(r.Context(), sessionID)
	if err != nil {
		return "", false
	}
	now := s.clock().UTC()
	if session.RevokedAt != nil || session.ExpiresAt.Before(now) {
		return "", false
	}
	return session.UserID, true
}
