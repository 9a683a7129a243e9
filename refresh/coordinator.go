// Package refresh renews the access token after the remote service rejects it.
//
// At most one refresh request is in flight at any time. Callers whose request was
// rejected while a refresh is running wait for that refresh and share its result;
// callers whose rejected token has already been replaced in the store skip the
// refresh and use the stored token. A failed refresh clears the credential store and
// notifies subscribers that the session is gone, unless the pair it was refreshing
// has already been replaced.
package refresh

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/autopost-client/credentials"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrSessionChanged is returned when the stored credential changed while the refresh
// was in flight (logout, or a new login). The refresh result is discarded and the
// current session is left as it is, whether the refresh succeeded or failed.
var ErrSessionChanged = errors.New("session changed during refresh")

const flightKey = "refresh"

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error)

func (f RefresherFunc) RefreshToken(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	return f(ctx, refreshToken)
}

// InvalidationHandler is called once per invalidated session with the reason, which
// always matches ErrRefreshExhausted.
type InvalidationHandler func(reason error)

// Coordinator serialises token refreshes for one credential store.
type Coordinator struct {
	store     credentials.Store
	refresher Refresher
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu              sync.Mutex
	subscribers     map[int]InvalidationHandler
	nextID          int
	notified        bool   // the last session seen has been announced as ended
	lastInvalidated string // rejected token of that announcement
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a Coordinator over store that renews tokens with refresher.
func New(store credentials.Store, refresher Refresher, options ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[refresh.New] credential store is required")
	}
	if refresher == nil {
		return nil, errors.New("[refresh.New] refresher is required")
	}
	c := &Coordinator{
		store:       store,
		refresher:   refresher,
		metrics:     metrics.New(nil),
		logger:      log.Logger,
		subscribers: make(map[int]InvalidationHandler),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Subscribe registers fn for session invalidation events and returns a function that
// removes it.
func (c *Coordinator) Subscribe(fn InvalidationHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Refresh returns a credential whose access token is newer than rejected, the access
// token the remote service just refused ("" if the request carried none).
//
// Errors: ErrRefreshExhausted (session invalidated), ErrSessionChanged (discard the
// result, the session is no longer the one that made the request).
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (credentials.Credential, error) {
	if cred, done, err := c.current(ctx, rejected); done {
		return cred, err
	}

	// The refresh outlives any single caller: a cancelled caller must not abort the
	// refresh other callers are waiting on.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(flightKey, func() (any, error) {
		return c.refresh(flightCtx, rejected)
	})
	if shared {
		c.logger.Debug().Msg("joined in-flight token refresh")
	}
	if err != nil {
		return credentials.Credential{}, err
	}
	return v.(credentials.Credential), nil
}

// current reads the stored pair. done is true when no refresh request is needed: the
// store is empty (session invalidated) or already holds a newer access token.
func (c *Coordinator) current(ctx context.Context, rejected string) (credentials.Credential, bool, error) {
	cred, ok, err := c.store.Get(ctx)
	if err != nil {
		cause := apperrors.Wrapf(err, "[Coordinator.Refresh] store.Get")
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.Err(clearErr).Msg("failed to clear credential store")
		}
		return credentials.Credential{}, true, c.broadcast(rejected, cause)
	}
	if !ok {
		return credentials.Credential{}, true, c.broadcast(rejected, apperrors.ErrNoCredential)
	}
	c.observed(cred)
	return cred, cred.AccessToken != rejected, nil
}

func (c *Coordinator) refresh(ctx context.Context, rejected string) (credentials.Credential, error) {
	// Re-check inside the flight: a refresh that finished between our store read and
	// joining the group has already replaced the token.
	cred, done, err := c.current(ctx, rejected)
	if done {
		return cred, err
	}

	c.metrics.Refreshes.Inc()
	resp, err := c.refresher.RefreshToken(ctx, cred.RefreshToken)
	if err == nil && (resp == nil || resp.Access == "") {
		err = apperrors.ErrUnexpected
	}
	if err != nil {
		c.metrics.RefreshFails.Inc()
		return credentials.Credential{}, c.fail(ctx, rejected, cred, err)
	}

	next := credentials.Credential{AccessToken: resp.Access, RefreshToken: cred.RefreshToken}
	if resp.Refresh != "" {
		next.RefreshToken = resp.Refresh
	}
	swapped, err := c.store.CompareAndSwap(ctx, cred, next)
	if err != nil {
		return credentials.Credential{}, c.fail(ctx, rejected, cred, apperrors.Wrapf(err, "[Coordinator.Refresh] store.CompareAndSwap"))
	}
	if !swapped {
		c.logger.Info().Msg("credential changed during refresh, discarding refreshed token")
		return credentials.Credential{}, ErrSessionChanged
	}

	c.logger.Info().Bool("rotated", resp.Refresh != "").Msg("access token refreshed")
	return next, nil
}

// fail ends the session that owned cred. When the store no longer holds cred the
// session was already logged out or replaced by a newer one, and it is left alone.
func (c *Coordinator) fail(ctx context.Context, rejected string, cred credentials.Credential, cause error) error {
	cleared, err := c.store.CompareAndClear(ctx, cred)
	if err != nil {
		c.logger.Err(err).Msg("failed to clear credential store")
		return c.broadcast(rejected, errors.Join(cause, err))
	}
	if !cleared {
		c.logger.Info().Err(cause).Msg("credential changed during refresh, keeping the current session")
		return ErrSessionChanged
	}
	return c.broadcast(rejected, cause)
}

// observed records that a live pair was read. A pair other than the one last torn
// down means a new session started, so its end is announced again.
func (c *Coordinator) observed(cred credentials.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notified && cred.AccessToken != c.lastInvalidated {
		c.notified = false
	}
}

// broadcast notifies subscribers that the session is gone. Once announced, further
// failures against the empty store are not announced again until a new pair is seen.
func (c *Coordinator) broadcast(rejected string, cause error) error {
	reason := errors.Join(apperrors.ErrRefreshExhausted, cause)

	c.mu.Lock()
	if c.notified {
		c.mu.Unlock()
		return reason
	}
	c.notified = true
	c.lastInvalidated = rejected
	handlers := make([]InvalidationHandler, 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	c.metrics.Invalidations.Inc()
	c.logger.Warn().Err(cause).Msg("session invalidated")
	for _, h := range handlers {
		h(reason)
	}
	return reason
}
