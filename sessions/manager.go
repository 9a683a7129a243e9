// Package sessions holds the signed in user for the lifetime of the host process.
//
// The Manager is the only writer of the profile and the only component that commits a
// new credential pair. Every operation that completes a network call commits its result
// only if no logout or invalidation happened since it started.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/autopost-client/apiclient"
	"github.com/jrsteele09/autopost-client/credentials"
	"github.com/jrsteele09/autopost-client/internal/config"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/navigation"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/refresh"
	"github.com/jrsteele09/autopost-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSessionEnded is returned when the session was logged out or invalidated while the
// operation was waiting on the remote service. The result was discarded.
var ErrSessionEnded = errors.New("session ended during the operation")

// API is the part of the remote service the Manager drives.
type API interface {
	Login(ctx context.Context, username, password string) (*oauthmodel.TokenPair, error)
	Register(ctx context.Context, req oauthmodel.RegisterRequest) (*oauthmodel.RegisterResponse, error)
	Profile(ctx context.Context, options ...apiclient.CallOption) (*users.Profile, error)
	UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.Profile, error)
	OnSessionInvalidated(fn refresh.InvalidationHandler) (unsubscribe func())
}

var _ API = (*apiclient.Client)(nil)

// Manager is the explicit session context passed to whatever needs the signed in user.
type Manager struct {
	api    API
	store  credentials.Store
	nav    navigation.Navigator
	routes config.SessionConfig
	logger zerolog.Logger

	mu          sync.RWMutex
	user        *users.Profile
	epoch       uint64
	redirects   []*navigation.Task
	unsubscribe func()
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a Manager. store must be the store api reads its bearer tokens from.
func New(api API, store credentials.Store, nav navigation.Navigator, routes config.SessionConfig, options ...Option) (*Manager, error) {
	if api == nil || store == nil || nav == nil || routes == nil {
		return nil, errors.New("[sessions.New] api, store, navigator and routes are required")
	}
	m := &Manager{
		api:    api,
		store:  store,
		nav:    nav,
		routes: routes,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(m)
	}
	m.unsubscribe = api.OnSessionInvalidated(m.invalidated)
	return m, nil
}

// Close detaches the Manager from invalidation events and cancels pending redirects.
func (m *Manager) Close() {
	m.unsubscribe()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRedirectsLocked()
}

// User returns a copy of the signed in user, or nil.
func (m *Manager) User() *users.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userLocked()
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Init restores the session of a previous run. Any failure leaves the store empty and
// the session signed out; Init itself never fails.
func (m *Manager) Init(ctx context.Context) *users.Profile {
	epoch := m.currentEpoch()

	if _, ok, err := m.store.Get(ctx); err != nil || !ok {
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to read stored credentials")
		}
		m.clearIfCurrent(ctx, epoch)
		return nil
	}

	profile, err := m.api.Profile(ctx)
	if err != nil {
		m.logger.Info().Err(err).Msg("stored session could not be restored")
		m.clearIfCurrent(ctx, epoch)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil
	}
	m.user = profile
	m.logger.Info().Str("username", profile.Username).Msg("session restored")
	return m.userLocked()
}

// userLocked copies the user; callers hold m.mu.
func (m *Manager) userLocked() *users.Profile {
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) clearIfCurrent(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	m.user = nil
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Err(err).Msg("failed to clear credential store")
	}
}

// Login signs in with a username and password. Nothing changes on failure; a rejected
// login matches apperrors.ErrInvalidCredentials.
func (m *Manager) Login(ctx context.Context, username, password string) (*users.Profile, error) {
	epoch := m.currentEpoch()
	pair, err := m.api.Login(ctx, username, password)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login]")
	}
	profile, err := m.adopt(ctx, epoch, credentials.Credential{AccessToken: pair.Access, RefreshToken: pair.Refresh})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login]")
	}
	return profile, nil
}

// Register creates an account and signs it in. When the service does not return
// tokens with the new account the Manager signs in with the submitted password.
// Field errors match apperrors.ErrValidation and are available on *apperrors.APIError.
func (m *Manager) Register(ctx context.Context, req oauthmodel.RegisterRequest) (*users.Profile, error) {
	epoch := m.currentEpoch()
	resp, err := m.api.Register(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Register]")
	}

	if resp.Tokens == nil || resp.Tokens.Access == "" || resp.Tokens.Refresh == "" {
		m.logger.Debug().Str("username", req.Username).Msg("registration returned no tokens, signing in")
		if m.currentEpoch() != epoch {
			return nil, errors.Wrap(ErrSessionEnded, "[Manager.Register]")
		}
		return m.Login(ctx, req.Username, req.Password)
	}

	profile, err := m.adopt(ctx, epoch, credentials.Credential{AccessToken: resp.Tokens.Access, RefreshToken: resp.Tokens.Refresh})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Register]")
	}
	return profile, nil
}

// Adopt verifies cred by fetching the profile with it and, if that succeeds, makes it
// the current session. A failed fetch leaves the store and the session untouched.
func (m *Manager) Adopt(ctx context.Context, cred credentials.Credential) (*users.Profile, error) {
	profile, err := m.adopt(ctx, m.currentEpoch(), cred)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Adopt]")
	}
	return profile, nil
}

func (m *Manager) adopt(ctx context.Context, epoch uint64, cred credentials.Credential) (*users.Profile, error) {
	if !cred.Complete() {
		return nil, apperrors.ErrIncompleteCredential
	}
	profile, err := m.api.Profile(ctx, apiclient.WithToken(cred.AccessToken))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil, ErrSessionEnded
	}
	if err := m.store.Set(ctx, cred); err != nil {
		return nil, errors.Wrap(err, "store.Set")
	}
	m.user = profile
	m.logger.Info().Str("username", profile.Username).Msg("signed in")
	return m.userLocked(), nil
}

// Logout ends the session. It never fails: the store and the profile are cleared even
// if requests are still in flight, and their late results are discarded.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.user = nil
	m.cancelRedirectsLocked()
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Err(err).Msg("failed to clear credential store")
	}
	m.logger.Info().Msg("signed out")
}

// UpdateProfile changes the signed in user's details.
func (m *Manager) UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.Profile, error) {
	epoch := m.currentEpoch()
	profile, err := m.api.UpdateProfile(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.UpdateProfile]")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.user == nil {
		return nil, errors.Wrap(ErrSessionEnded, "[Manager.UpdateProfile]")
	}
	m.user = profile
	return m.userLocked(), nil
}

// ScheduleRedirect navigates to route after delay unless the session is logged out,
// invalidated or closed first.
func (m *Manager) ScheduleRedirect(ctx context.Context, delay time.Duration, route string) *navigation.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := navigation.Schedule(ctx, m.nav, delay, route)
	live := m.redirects[:0]
	for _, t := range m.redirects {
		select {
		case <-t.Done():
		default:
			live = append(live, t)
		}
	}
	m.redirects = append(live, task)
	return task
}

func (m *Manager) cancelRedirectsLocked() {
	for _, t := range m.redirects {
		t.Cancel()
	}
	m.redirects = nil
}

// invalidated tears the session down after a failed token refresh and sends the user
// to the login route.
func (m *Manager) invalidated(reason error) {
	m.mu.Lock()
	m.epoch++
	wasSignedIn := m.user != nil
	m.user = nil
	m.cancelRedirectsLocked()
	m.mu.Unlock()

	m.logger.Warn().Err(reason).Bool("was_signed_in", wasSignedIn).Msg("session invalidated")
	m.nav.Navigate(m.routes.GetLoginRoute())
}
