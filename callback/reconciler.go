// Package callback turns the address the service redirects to after a third party
// sign in (/oauth/{provider}/callback#access_token=...&refresh_token=...) into a
// signed in session.
package callback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/jrsteele09/autopost-client/credentials"
	"github.com/jrsteele09/autopost-client/internal/config"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/navigation"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/sessions"
	"github.com/jrsteele09/autopost-client/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidProvider    = errors.New("invalid oauth provider")
	ErrProviderError      = errors.New("oauth provider error")
	ErrUnexpectedFlow     = errors.New("unexpected oauth flow")
	ErrNoAuthData         = errors.New("no authentication data received")
	ErrProfileFetchFailed = errors.New("failed to get user profile")
)

// User-visible messages for each failure.
const (
	msgInvalidProvider = "Invalid OAuth provider"
	msgProviderError   = "OAuth error: "
	msgProfileFailed   = "Failed to get user profile"
	msgUnexpectedFlow  = "Unexpected OAuth flow - please try again"
	msgNoAuthData      = "No authentication data received"
)

// Session is the part of the session manager the Reconciler signs users in through.
type Session interface {
	Adopt(ctx context.Context, cred credentials.Credential) (*users.Profile, error)
	ScheduleRedirect(ctx context.Context, delay time.Duration, route string) *navigation.Task
}

var _ Session = (*sessions.Manager)(nil)

// Outcome is the result of handling one callback address.
type Outcome struct {
	Provider string
	User     *users.Profile

	// Err matches one of the package errors; nil on success.
	Err error

	// Message is shown to the user when Err is set.
	Message string

	// Redirect is the pending navigation to the login route after a failure. The
	// owner cancels it when it is torn down first.
	Redirect *navigation.Task
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Reconciler handles callback landings. Each distinct address is processed once;
// handling it again returns the first outcome without side effects. Only the most
// recent addresses are remembered (see WithHandledLimit).
type Reconciler struct {
	session Session
	nav     navigation.Navigator
	cfg     config.SessionConfig
	logger  zerolog.Logger

	mu      sync.Mutex
	handled map[string]*landing // keyed by address hash so tokens are not retained
	order   []string            // handled keys, oldest first
	limit   int
}

// DefaultHandledLimit is how many distinct addresses a Reconciler remembers.
const DefaultHandledLimit = 128

type landing struct {
	done    chan struct{}
	outcome Outcome
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithHandledLimit sets how many distinct addresses are remembered. Once the limit is
// reached the oldest completed address is forgotten and would be processed again.
func WithHandledLimit(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.limit = n
		}
	}
}

func New(session Session, nav navigation.Navigator, cfg config.SessionConfig, options ...Option) *Reconciler {
	r := &Reconciler{
		session: session,
		nav:     nav,
		cfg:     cfg,
		logger:  log.Logger,
		handled: make(map[string]*landing),
		limit:   DefaultHandledLimit,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Reconcile handles the callback address u. ctx bounds the profile request and the
// lifetime of a failure redirect.
func (r *Reconciler) Reconcile(ctx context.Context, u *url.URL) Outcome {
	key := addressKey(u)

	r.mu.Lock()
	if l, ok := r.handled[key]; ok {
		r.mu.Unlock()
		<-l.done
		return l.outcome
	}
	l := &landing{done: make(chan struct{})}
	r.handled[key] = l
	r.order = append(r.order, key)
	r.evictLocked()
	r.mu.Unlock()

	l.outcome = r.reconcile(ctx, u)
	close(l.done)
	return l.outcome
}

// evictLocked forgets the oldest completed landings above the limit. Landings still
// in progress are kept so concurrent duplicates keep waiting on them.
func (r *Reconciler) evictLocked() {
	for i := 0; len(r.handled) > r.limit && i < len(r.order); {
		key := r.order[i]
		select {
		case <-r.handled[key].done:
			delete(r.handled, key)
			r.order = append(r.order[:i], r.order[i+1:]...)
		default:
			i++
		}
	}
}

func addressKey(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.String()))
	return hex.EncodeToString(sum[:])
}

func (r *Reconciler) reconcile(ctx context.Context, u *url.URL) Outcome {
	// The provider is checked before anything else in the address is read.
	provider := oauthmodel.ProviderFromPath(u.Path)
	if !slices.Contains(r.cfg.GetOAuthProviders(), provider) {
		return r.fail(ctx, Outcome{Provider: provider, Err: ErrInvalidProvider, Message: msgInvalidProvider})
	}

	params := oauthmodel.ParseCallbackParameters(u)
	switch {
	case params.Error != "":
		return r.fail(ctx, Outcome{
			Provider: provider,
			Err:      fmt.Errorf("%w: %s", ErrProviderError, params.Error),
			Message:  msgProviderError + params.Error,
		})

	case params.HasTokens():
		cred := credentials.Credential{AccessToken: params.AccessToken, RefreshToken: params.RefreshToken}
		user, err := r.session.Adopt(ctx, cred)
		if err != nil {
			return r.fail(ctx, Outcome{
				Provider: provider,
				Err:      errors.Join(ErrProfileFetchFailed, err),
				Message:  profileFailureMessage(err),
			})
		}
		stripped := url.URL{Path: u.Path, RawPath: u.RawPath}
		r.nav.ReplaceState(stripped.String())
		r.nav.Navigate(r.cfg.GetDashboardRoute())
		r.logger.Info().Str("provider", provider).Str("username", user.Username).Msg("oauth sign in completed")
		return Outcome{Provider: provider, User: user}

	case params.Code != "":
		return r.fail(ctx, Outcome{Provider: provider, Err: ErrUnexpectedFlow, Message: msgUnexpectedFlow})
	}
	return r.fail(ctx, Outcome{Provider: provider, Err: ErrNoAuthData, Message: msgNoAuthData})
}

// fail schedules the redirect to the login route.
func (r *Reconciler) fail(ctx context.Context, o Outcome) Outcome {
	r.logger.Warn().Str("provider", o.Provider).Err(o.Err).Msg("oauth callback failed")
	o.Redirect = r.session.ScheduleRedirect(ctx, r.cfg.GetRedirectDelay(), r.cfg.GetLoginRoute())
	return o
}

func profileFailureMessage(err error) string {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return msgProfileFailed
}
