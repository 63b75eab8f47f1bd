// Package session owns the authenticated session: the current token pair,
// the server-confirmed user, and the short-lived step-up credential.
//
// A single Manager is the one authority every other component consults.
// Components never mutate session state directly; they go through the
// Manager's methods, which keep the in-memory state, the persisted copy and
// the subscribers consistent.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jkoskela/storefront-session/internal/credstore"
	"github.com/jkoskela/storefront-session/internal/jwtx"
)

// LoginRoute is where the embedding app is sent after a hard session loss.
const LoginRoute = "/account/login"

// Single-flight keys. At most one operation per key is outstanding at any
// instant; concurrent callers attach to the pending one.
const (
	flightRefresh = "refresh"
	flightEnsure  = "ensure-authenticated"
)

// Manager orchestrates login, refresh, step-up and logout, and answers the
// synchronous credential getters used by the rest of the client.
type Manager struct {
	api   AuthAPI
	store *credstore.Store
	skew  time.Duration

	// OnSessionExpired, if set, is called with a route after a hard
	// session loss. A library cannot navigate; the embedding app reacts.
	OnSessionExpired func(route string)

	flight singleflight.Group

	mu     sync.RWMutex
	tokens *TokenPair
	user   *UserProfile
	stepUp string
	scope  credstore.Scope
	// generation counts identity changes (clear, login). An operation
	// that was in flight across a generation bump discards its result
	// instead of writing it over the newer state.
	generation uint64

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// NewManager creates a Manager over the given endpoints and credential
// store. A zero skew falls back to the default margin.
func NewManager(api AuthAPI, store *credstore.Store, skew time.Duration) *Manager {
	if skew <= 0 {
		skew = jwtx.DefaultSkew
	}
	return &Manager{
		api:   api,
		store: store,
		skew:  skew,
		scope: credstore.Ephemeral,
		subs:  make(map[chan Snapshot]struct{}),
	}
}

// IsAuthenticated reports whether a server-confirmed identity exists.
// Possessing token bytes is not enough; user is set only after /auth/me
// succeeds.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// AccessToken returns the current access token, or "" when logged out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.AccessToken
}

// RefreshToken returns the current refresh token, or "" when logged out.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.RefreshToken
}

// StepUpToken returns the current step-up credential, or "" when none held.
func (m *Manager) StepUpToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stepUp
}

// User returns a copy of the current profile, or nil when logged out.
func (m *Manager) User() *UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// Role returns the current user's role, or "" when logged out. Route guards
// key off this.
func (m *Manager) Role() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.Role
}

// HasCredentials reports whether any credential state exists at all, live or
// stale. The retry coordinator uses this to decide whether a 401 is worth a
// refresh attempt.
func (m *Manager) HasCredentials() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens != nil
}

// Login authenticates against the login endpoint. Unlike every other
// operation, errors are returned raw so the login form can render
// field-level messages from the original status and body.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result, err := m.api.Login(ctx, req)
	if err != nil {
		return nil, err
	}

	scope := credstore.Ephemeral
	if req.Remember {
		scope = credstore.Persistent
	}

	m.mu.Lock()
	tokens := result.Tokens
	user := result.User
	m.tokens = &tokens
	m.user = &user
	m.stepUp = ""
	m.scope = scope
	m.generation++
	m.mu.Unlock()

	m.persistSession()
	m.notify()

	log.Info().Str("user", result.User.ID).Bool("remember", req.Remember).
		Msg("logged in")
	return result, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// coalesce onto one outstanding network call and all receive its outcome.
// Failure resolves to nil, never an error; whether a failed refresh ends the
// session is the caller's decision.
func (m *Manager) Refresh(ctx context.Context, silent bool) *TokenPair {
	v, _, _ := m.flight.Do(flightRefresh, func() (interface{}, error) {
		start := m.currentGeneration()

		// An expired refresh token is omitted rather than sent; the
		// server rejects it anyway and some backends treat a present
		// stale token differently than an absent one.
		refreshToken := m.RefreshToken()
		if jwtx.IsExpired(refreshToken, m.skew) {
			refreshToken = ""
		}

		pair, err := m.api.Refresh(ctx, refreshToken, silent)
		if err != nil {
			log.Debug().Err(err).Msg("token refresh failed")
			return (*TokenPair)(nil), nil
		}

		m.mu.Lock()
		if m.generation != start {
			m.mu.Unlock()
			log.Debug().Msg("session replaced during refresh, discarding tokens")
			return (*TokenPair)(nil), nil
		}
		m.tokens = pair
		m.mu.Unlock()
		m.persistTokens()
		m.notify()

		return pair, nil
	})
	return v.(*TokenPair)
}

// EnsureAuthenticated makes sure the session holds a server-confirmed
// identity, refreshing first if the access token is dead. Coalesced like
// Refresh. Any failure along the chain clears the session and returns false;
// valid tokens with an unreachable identity endpoint count as failure.
func (m *Manager) EnsureAuthenticated(ctx context.Context, silent bool) bool {
	v, _, _ := m.flight.Do(flightEnsure, func() (interface{}, error) {
		start := m.currentGeneration()

		accessToken := m.AccessToken()
		if jwtx.IsExpired(accessToken, m.skew) {
			pair := m.Refresh(ctx, silent)
			if pair == nil {
				m.ExpireSession()
				return false, nil
			}
			accessToken = pair.AccessToken
		}

		user, err := m.api.Me(ctx, accessToken, silent)
		if err != nil {
			log.Debug().Err(err).Msg("identity check failed")
			m.ExpireSession()
			return false, nil
		}

		m.mu.Lock()
		if m.generation != start || m.tokens == nil {
			// The session was cleared or replaced while /auth/me was in
			// flight; writing user now would resurrect it. Tokens and
			// user are cleared together, never one without the other.
			m.mu.Unlock()
			log.Debug().Msg("session replaced during identity check, discarding result")
			return false, nil
		}
		m.user = user
		m.mu.Unlock()
		m.persistUser()
		m.notify()

		return true, nil
	})
	return v.(bool)
}

// EnsureStepUp obtains a step-up credential for sensitive operations,
// requesting a fresh one from the server. Returns "" on failure.
func (m *Manager) EnsureStepUp(ctx context.Context, silent bool) string {
	accessToken := m.AccessToken()
	if accessToken == "" {
		return ""
	}

	token, err := m.api.StepUp(ctx, accessToken, silent)
	if err != nil {
		log.Debug().Err(err).Msg("step-up issuance failed")
		return ""
	}

	m.mu.Lock()
	m.stepUp = token
	m.mu.Unlock()
	m.notify()

	return token
}

// ClearStepUp drops the held step-up credential, e.g. after the server
// rejected it as stale.
func (m *Manager) ClearStepUp() {
	m.mu.Lock()
	m.stepUp = ""
	m.mu.Unlock()
	m.notify()
}

// Logout tells the server to revoke the refresh token (best effort) and
// clears the session locally.
func (m *Manager) Logout(ctx context.Context) {
	if refreshToken := m.RefreshToken(); refreshToken != "" {
		if err := m.api.Logout(ctx, refreshToken); err != nil {
			log.Debug().Err(err).Msg("server-side logout failed")
		}
	}
	m.ClearSession()
}

// ClearSession wipes tokens, user, step-up credential and both persisted
// scopes. Idempotent.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	m.tokens = nil
	m.user = nil
	m.stepUp = ""
	m.generation++
	m.mu.Unlock()

	m.store.ClearAll()
	m.notify()
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// ExpireSession is the terminal transition after an irrecoverable auth
// failure: clear everything and hand the app the login route.
func (m *Manager) ExpireSession() {
	m.mu.RLock()
	hadSession := m.tokens != nil || m.user != nil
	m.mu.RUnlock()

	m.ClearSession()

	// An anonymous visitor has nothing to expire; don't bounce them to the
	// login page.
	if !hadSession {
		return
	}
	log.Info().Msg("session expired")
	if m.OnSessionExpired != nil {
		m.OnSessionExpired(LoginRoute)
	}
}

// Bootstrap runs once at process start: load whichever scope holds a
// persisted session, preferring the ephemeral scope as the most recently
// active one. A session whose access and refresh tokens are both dead is
// discarded outright instead of being presented as logged in.
func (m *Manager) Bootstrap() {
	scope := credstore.Ephemeral
	raw := m.store.Read(credstore.Ephemeral, credstore.KeyTokens)
	if raw == nil {
		scope = credstore.Persistent
		raw = m.store.Read(credstore.Persistent, credstore.KeyTokens)
	}
	if raw == nil {
		return
	}

	var tokens TokenPair
	if err := json.Unmarshal(raw, &tokens); err != nil {
		log.Warn().Err(err).Msg("discarding unreadable persisted tokens")
		m.store.ClearAll()
		return
	}

	if jwtx.IsExpired(tokens.AccessToken, m.skew) && jwtx.IsExpired(tokens.RefreshToken, m.skew) {
		log.Debug().Msg("persisted session fully expired, discarding")
		m.store.ClearAll()
		return
	}

	var user *UserProfile
	if rawUser := m.store.Read(scope, credstore.KeyUser); rawUser != nil {
		var u UserProfile
		if err := json.Unmarshal(rawUser, &u); err == nil {
			user = &u
		}
	}

	m.mu.Lock()
	m.tokens = &tokens
	m.user = user
	m.scope = scope
	m.mu.Unlock()
	m.notify()

	log.Info().Stringer("scope", scope).Bool("cachedUser", user != nil).
		Msg("restored persisted session")
}

// --- persistence ---

// persistSession writes tokens and user to the active scope and clears the
// other one, so a stale copy in the unused scope can never resurrect a dead
// session after a scope switch.
func (m *Manager) persistSession() {
	m.mu.RLock()
	scope := m.scope
	tokens := m.tokens
	user := m.user
	m.mu.RUnlock()

	other := credstore.Persistent
	if scope == credstore.Persistent {
		other = credstore.Ephemeral
	}
	m.store.ClearScope(other)

	if tokens != nil {
		if raw, err := json.Marshal(tokens); err == nil {
			m.store.Write(scope, credstore.KeyTokens, raw)
		}
	}
	if user != nil {
		if raw, err := json.Marshal(user); err == nil {
			m.store.Write(scope, credstore.KeyUser, raw)
		}
	}
}

func (m *Manager) persistTokens() {
	m.mu.RLock()
	scope := m.scope
	tokens := m.tokens
	m.mu.RUnlock()

	if tokens == nil {
		m.store.Remove(scope, credstore.KeyTokens)
		return
	}
	if raw, err := json.Marshal(tokens); err == nil {
		m.store.Write(scope, credstore.KeyTokens, raw)
	}
}

func (m *Manager) persistUser() {
	m.mu.RLock()
	scope := m.scope
	user := m.user
	m.mu.RUnlock()

	if user == nil {
		m.store.Remove(scope, credstore.KeyUser)
		return
	}
	if raw, err := json.Marshal(user); err == nil {
		m.store.Write(scope, credstore.KeyUser, raw)
	}
}

// --- subscriptions ---

// Subscribe returns a channel that receives a Snapshot on every session
// mutation. The channel holds the latest state only; a slow reader sees
// intermediate states collapsed, never a stale final one.
func (m *Manager) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	ch <- m.snapshot()
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		StepUp:     m.stepUp,
		Persistent: m.scope == credstore.Persistent,
	}
	if m.tokens != nil {
		tokens := *m.tokens
		snap.Tokens = &tokens
	}
	if m.user != nil {
		user := *m.user
		snap.User = &user
	}
	return snap
}

func (m *Manager) notify() {
	snap := m.snapshot()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		// Latest-wins: drop the undelivered snapshot, if any, then send.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
