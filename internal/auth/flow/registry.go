package flow

import (
	"sync"
	"time"

	"github.com/hallpass-id/hallpass/internal/platform/errors"
)

// DefaultFlowTTL bounds how long an unfinished attempt stays resumable.
const DefaultFlowTTL = 10 * time.Minute

type loginEntry struct {
	login     *Login
	expiresAt time.Time
}

type setupEntry struct {
	setup     *Setup
	expiresAt time.Time
}

// Registry holds in-flight attempts server-side so browsers only carry an
// opaque flow id. Attempts are transient; a process restart drops them and
// the user starts over.
type Registry struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  func() time.Time
	logins map[string]loginEntry
	setups map[string]setupEntry
}

// NewRegistry builds a registry with the given attempt lifetime.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &Registry{
		ttl:    ttl,
		clock:  time.Now,
		logins: make(map[string]loginEntry),
		setups: make(map[string]setupEntry),
	}
}

// PutLogin stores an attempt under its id, refreshing the deadline.
func (r *Registry) PutLogin(login *Login) {
	if login == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.logins[login.ID()] = loginEntry{login: login, expiresAt: r.clock().Add(r.ttl)}
}

// GetLogin resumes an attempt. Expired or unknown ids surface
// SESSION_EXPIRED so the UI can restart at the password step.
func (r *Registry) GetLogin(id string) (*Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.logins[id]
	if !ok || entry.expiresAt.Before(r.clock()) {
		delete(r.logins, id)
		return nil, errors.New(errors.CodeSessionExpired, "login attempt expired")
	}
	return entry.login, nil
}

// DropLogin discards an attempt after success or abandonment.
func (r *Registry) DropLogin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logins, id)
}

// PutSetup stores a setup attempt under its id, refreshing the deadline.
func (r *Registry) PutSetup(setup *Setup) {
	if setup == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.setups[setup.ID()] = setupEntry{setup: setup, expiresAt: r.clock().Add(r.ttl)}
}

// GetSetup resumes a setup attempt.
func (r *Registry) GetSetup(id string) (*Setup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.setups[id]
	if !ok || entry.expiresAt.Before(r.clock()) {
		delete(r.setups, id)
		return nil, errors.New(errors.CodeSessionExpired, "setup attempt expired")
	}
	return entry.setup, nil
}

// DropSetup discards a setup attempt.
func (r *Registry) DropSetup(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.setups, id)
}

func (r *Registry) sweepLocked() {
	now := r.clock()
	for id, entry := range r.logins {
		if entry.expiresAt.Before(now) {
			delete(r.logins, id)
		}
	}
	for id, entry := range r.setups {
		if entry.expiresAt.Before(now) {
			delete(r.setups, id)
		}
	}
}
