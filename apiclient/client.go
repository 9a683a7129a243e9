// Package apiclient talks to the post scheduling service.
//
// Every authenticated call reads the credential store immediately before it is sent, so
// a token refreshed by another call is picked up without restarting anything. A call
// rejected with 401 triggers one shared token refresh and is replayed once.
package apiclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/autopost-client/credentials"
	"github.com/jrsteele09/autopost-client/internal/config"
	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/jrsteele09/autopost-client/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"
	DefaultTimeout = 10 * time.Second
)

// Client is the single entry point for requests to the remote service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	store       credentials.Store
	coordinator *refresh.Coordinator
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = trimSlash(baseURL)
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is kept as is.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithConfig applies the API settings of cfg.
func WithConfig(cfg config.APIConfig) Option {
	return func(c *Client) {
		c.baseURL = trimSlash(cfg.GetAPIBaseURL())
		c.httpClient.Timeout = cfg.GetRequestTimeout()
	}
}

// New creates a Client whose bearer tokens come from store.
func New(store credentials.Store, options ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("[apiclient.New] credential store is required")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		store:      store,
		metrics:    metrics.New(nil),
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	coordinator, err := refresh.New(store, refresh.RefresherFunc(c.RefreshToken),
		refresh.WithLogger(c.logger),
		refresh.WithMetrics(c.metrics),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[apiclient.New]")
	}
	c.coordinator = coordinator
	return c, nil
}

// Store returns the credential store the client reads bearer tokens from.
func (c *Client) Store() credentials.Store {
	return c.store
}

// OnSessionInvalidated registers fn to be called when a token refresh fails and the
// stored credentials have been cleared.
func (c *Client) OnSessionInvalidated(fn refresh.InvalidationHandler) (unsubscribe func()) {
	return c.coordinator.Subscribe(fn)
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func trimSlash(s string) string {
	return strings.TrimRight(s, "/")
}

// callOptions tune a single typed call.
type callOptions struct {
	token string
}

// CallOption overrides defaults of a single typed call.
type CallOption func(*callOptions)

// WithToken sends the call with accessToken instead of the stored one. Such calls are
// not refreshed on 401, which lets a caller verify tokens before committing them.
func WithToken(accessToken string) CallOption {
	return func(o *callOptions) {
		o.token = accessToken
	}
}

func applyCallOptions(options []CallOption) callOptions {
	var o callOptions
	for _, opt := range options {
		opt(&o)
	}
	return o
}

func withContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
