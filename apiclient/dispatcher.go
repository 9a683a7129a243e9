package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/autopost-client/credentials"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/jrsteele09/autopost-client/refresh"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const RequestIDHeader = "X-Request-ID"

// Request describes one call to the remote service. It is never modified by the
// dispatcher, so the same value can be replayed.
type Request struct {
	Method string
	Path   string // relative to the base URL, e.g. "/posts/"
	Query  url.Values
	Body   any // encoded as JSON when non-nil

	// Anonymous requests carry no bearer token and are never refreshed.
	Anonymous bool

	// Token, when set, is sent instead of the stored access token. 401 responses to
	// such requests are returned as is.
	Token string
}

func (r Request) intercepted() bool {
	return !r.Anonymous && r.Token == ""
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrapf(apperrors.ErrUnexpected, "[Response.Decode] %v", err)
	}
	return nil
}

// attempt pairs a request with how many times it has been sent before. The first
// send is attempt 0; the replay after a refresh is attempt 1 and is never refreshed.
type attempt struct {
	n   int
	req Request
}

func (a attempt) replay() attempt {
	return attempt{n: a.n + 1, req: a.req}
}

// Do sends req. Non-2xx responses are returned as *apperrors.APIError, transport
// failures match apperrors.ErrNetwork, and a rejected call whose token could not be
// refreshed matches apperrors.ErrRefreshExhausted.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.dispatch(withContext(ctx), attempt{req: req})
}

func (c *Client) dispatch(ctx context.Context, a attempt) (*Response, error) {
	token, err := c.bearer(ctx, a.req)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, a, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || a.n > 0 || !a.req.intercepted() {
		return c.result(resp)
	}

	if _, err := c.coordinator.Refresh(ctx, token); err != nil {
		if errors.Is(err, refresh.ErrSessionChanged) {
			return c.result(resp)
		}
		return nil, errors.Wrapf(err, "[Client.Do] %s %s", a.req.Method, a.req.Path)
	}
	c.metrics.Replays.Inc()
	return c.dispatch(ctx, a.replay())
}

// bearer returns the token to attach to req, read from the store on every send.
func (c *Client) bearer(ctx context.Context, req Request) (string, error) {
	if req.Anonymous {
		return "", nil
	}
	if req.Token != "" {
		return req.Token, nil
	}
	tok, err := credentials.TokenSource(ctx, c.store).Token()
	if errors.Is(err, apperrors.ErrNoCredential) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[Client.bearer] store.Get")
	}
	return tok.AccessToken, nil
}

func (c *Client) send(ctx context.Context, a attempt, token string) (*Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, a.req)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	logger := c.logger.With().
		Str("method", a.req.Method).
		Str("path", a.req.Path).
		Str("request_id", requestID).
		Int("attempt", a.n).
		Logger()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.Requests.WithLabelValues(metrics.StatusClass(0)).Inc()
		logger.Debug().Err(err).Msg("request failed")
		return nil, apperrors.Network(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.Requests.WithLabelValues(metrics.StatusClass(0)).Inc()
		return nil, apperrors.Network(err)
	}
	c.metrics.Requests.WithLabelValues(metrics.StatusClass(httpResp.StatusCode)).Inc()
	logger.Debug().Int("status", httpResp.StatusCode).Msg("request complete")

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.url(req.Path)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.newHTTPRequest] json.Marshal")
		}
		body = bytes.NewReader(encoded)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.newHTTPRequest] http.NewRequestWithContext")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// result turns non-2xx responses into *apperrors.APIError.
func (c *Client) result(resp *Response) (*Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		body = map[string]any{"detail": statusDetail(resp)}
	}
	return nil, apperrors.NewAPIError(resp.StatusCode, body)
}

func statusDetail(resp *Response) string {
	text := strings.TrimSpace(string(resp.Body))
	if text == "" || strings.HasPrefix(text, "<") {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
