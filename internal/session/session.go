// Package session owns the client's session state machine: anonymous until
// login or registration succeeds, authenticated until logout or a 401 forces
// the session down. The current user lives in memory; the token and cached
// user record persist through internal/store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"todo-client/internal/api"
	"todo-client/internal/auth"
	"todo-client/internal/models"
	"todo-client/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned by operations that need a session when
// none exists.
var ErrNotAuthenticated = errors.New("not logged in")

// Manager is the single source of truth for "is there a usable session".
type Manager struct {
	mu    sync.Mutex
	store *store.Store
	auth  *auth.Service
	user  *models.User
}

// New creates a Manager, registers the forced-logout hook on the client,
// and restores any persisted session.
//
// Restoration trusts the stored token without asking the backend: if the
// token decodes as a JWT its exp claim is checked locally, and an opaque
// token is taken at face value. Either way the first 401 settles it.
func New(st *store.Store, client *api.Client) (*Manager, error) {
	m := &Manager{
		store: st,
		auth:  auth.NewService(client),
	}
	client.OnUnauthorized(m.forceLogout)
	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) restore() error {
	token, err := m.store.Token()
	if err != nil {
		return fmt.Errorf("read stored token: %w", err)
	}
	if token == "" || tokenExpired(token) {
		return nil
	}
	user, err := m.store.User()
	if err != nil {
		return fmt.Errorf("read cached user: %w", err)
	}
	m.user = user
	return nil
}

// tokenExpired decodes the exp claim without verifying the signature.
// A token that is not a JWT at all is not considered expired here; the
// backend gets the final say on the first request.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// Login exchanges credentials for a session. On failure the previous state
// is left untouched. The token is persisted before the user record so there
// is never a stored user without a stored token.
func (m *Manager) Login(ctx context.Context, username, password string) (*models.User, error) {
	resp, err := m.auth.SignIn(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return m.establish(resp, "login failed")
}

// Register creates an account and starts a session, with the same contract
// as Login.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	resp, err := m.auth.SignUp(ctx, username, email, password)
	if err != nil {
		return nil, err
	}
	return m.establish(resp, "registration failed")
}

func (m *Manager) establish(resp *auth.Response, fallback string) (*models.User, error) {
	if !resp.Success || resp.Data.Token.AccessToken == "" {
		if resp.Message != "" {
			return nil, errors.New(resp.Message)
		}
		return nil, errors.New(fallback)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user := resp.Data.User
	if err := m.store.SetToken(resp.Data.Token.AccessToken); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	if err := m.store.SetUser(&user); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	m.user = &user
	return &user, nil
}

// Logout ends the session. The backend call is best effort: a failing
// network must never block local teardown, so its error is logged and
// dropped.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.auth.Logout(ctx); err != nil {
		log.Printf("logout request failed (continuing local teardown): %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	if err := m.store.Reset(); err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// forceLogout is invoked by the HTTP layer on 401.
func (m *Manager) forceLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	if err := m.store.Reset(); err != nil {
		log.Printf("forced logout: clearing session state failed: %v", err)
	}
}

// Current returns the authenticated user, or nil.
func (m *Manager) Current() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// IsAuthenticated reports whether a session exists. It holds exactly when
// Current returns a non-nil user.
func (m *Manager) IsAuthenticated() bool {
	return m.Current() != nil
}

// RemoteSession asks the backend to introspect the stored token. This is
// the opt-in eager-revalidation path; nothing calls it implicitly.
func (m *Manager) RemoteSession(ctx context.Context) (*auth.SessionInfo, error) {
	if !m.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return m.auth.Session(ctx)
}
