package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/autopost-client/apiclient"
	"github.com/jrsteele09/autopost-client/credentials"
	credentialsrepofake "github.com/jrsteele09/autopost-client/credentials/repofake"
	"github.com/jrsteele09/autopost-client/internal/apitest"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/internal/metrics"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	api     *apitest.Server
	store   *credentialsrepofake.FakeCredentialStore
	metrics *metrics.Metrics
	client  *apiclient.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	api := apitest.New(t)
	api.AddUser(t, "alice", "a@x.com", "secret")

	store := credentialsrepofake.NewFakeCredentialStore()
	m := metrics.New(prometheus.NewRegistry())
	client, err := apiclient.New(store,
		apiclient.WithBaseURL(api.BaseURL()),
		apiclient.WithLogger(zerolog.Nop()),
		apiclient.WithMetrics(m),
	)
	require.NoError(t, err)

	return &testFixture{api: api, store: store, metrics: m, client: client}
}

func (f *testFixture) signIn(t *testing.T) credentials.Credential {
	t.Helper()
	cred := f.api.IssueTokens(t, "alice")
	require.NoError(t, f.store.Set(context.Background(), cred))
	return cred
}

func (f *testFixture) stored(t *testing.T) (credentials.Credential, bool) {
	t.Helper()
	cred, ok, err := f.store.Get(context.Background())
	require.NoError(t, err)
	return cred, ok
}

// scriptedService answers with fixed tokens: only "A2" is accepted on /posts/1/ and
// refresh token "R1" is exchanged for "A2".
type scriptedService struct {
	refreshCalls atomic.Int32
	postAuth     []string
	mu           sync.Mutex
}

func (s *scriptedService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/auth/token/refresh/":
		s.refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh"] != "R1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access":"A2"}`))
	case "/api/posts/1/":
		s.mu.Lock()
		s.postAuth = append(s.postAuth, r.Header.Get("Authorization"))
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"platform":"twitter","content":"hello","status":"pending","scheduled_time":"2030-01-01T00:00:00Z","created_at":"2026-01-01T00:00:00Z","can_edit":true,"can_cancel":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newScriptedClient(t *testing.T, handler http.Handler, store credentials.Store, options ...apiclient.Option) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	options = append([]apiclient.Option{
		apiclient.WithBaseURL(srv.URL + "/api/"),
		apiclient.WithLogger(zerolog.Nop()),
	}, options...)
	client, err := apiclient.New(store, options...)
	require.NoError(t, err)
	return client
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := apiclient.New(nil)
	require.Error(t, err)
}

func TestDo_RejectedTokenIsRefreshedAndReplayed(t *testing.T) {
	service := &scriptedService{}
	store := credentialsrepofake.NewFakeCredentialStore()
	require.NoError(t, store.Set(context.Background(), credentials.Credential{AccessToken: "A1", RefreshToken: "R1"}))
	m := metrics.New(nil)
	client := newScriptedClient(t, service, store, apiclient.WithMetrics(m))

	post, err := client.GetPost(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "hello", post.Content)

	require.Equal(t, []string{"Bearer A1", "Bearer A2"}, service.postAuth)
	require.Equal(t, int32(1), service.refreshCalls.Load())

	cred, ok, err := store.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, credentials.Credential{AccessToken: "A2", RefreshToken: "R1"}, cred)
	require.Equal(t, float64(1), testutil.ToFloat64(m.Replays))
}

func TestDo_ReplayRejectionIsFinal(t *testing.T) {
	var refreshCalls, postCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/auth/token/refresh/") {
			refreshCalls.Add(1)
			_, _ = w.Write([]byte(`{"access":"A2"}`))
			return
		}
		postCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"no"}`))
	})
	store := credentialsrepofake.NewFakeCredentialStore()
	require.NoError(t, store.Set(context.Background(), credentials.Credential{AccessToken: "A1", RefreshToken: "R1"}))
	client := newScriptedClient(t, handler, store)

	_, err := client.GetPost(context.Background(), 1)
	require.ErrorIs(t, err, apperrors.ErrAuthRejected)

	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, int32(1), refreshCalls.Load())
	require.Equal(t, int32(2), postCalls.Load())
}

func TestDo_AttachesStoredTokenOnEverySend(t *testing.T) {
	f := setupTestFixture(t)
	first := f.signIn(t)

	_, err := f.client.PostStats(context.Background())
	require.NoError(t, err)
	second := f.signIn(t)
	_, err = f.client.PostStats(context.Background())
	require.NoError(t, err)

	requests := f.api.RequestsTo(http.MethodGet, "/posts/stats/")
	require.Len(t, requests, 2)
	require.Equal(t, "Bearer "+first.AccessToken, requests[0].Authorization)
	require.Equal(t, "Bearer "+second.AccessToken, requests[1].Authorization)
	require.NotEmpty(t, requests[0].RequestID)
	require.NotEqual(t, requests[0].RequestID, requests[1].RequestID)
}

func TestDo_NoStoredTokenSendsNoBearer(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.client.PostStats(context.Background())
	require.ErrorIs(t, err, apperrors.ErrRefreshExhausted)

	requests := f.api.RequestsTo(http.MethodGet, "/posts/stats/")
	require.Len(t, requests, 1)
	require.Empty(t, requests[0].Authorization)
	require.Zero(t, f.api.RefreshCalls())
}

func TestDo_ExpiredAccessTokenIsRenewed(t *testing.T) {
	f := setupTestFixture(t)
	before := f.signIn(t)
	f.api.ExpireAccessTokens()

	stats, err := f.client.PostStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.Equal(t, 1, f.api.RefreshCalls())

	after, ok := f.stored(t)
	require.True(t, ok)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.Equal(t, before.RefreshToken, after.RefreshToken)
}

func TestDo_RotatedRefreshTokenIsStored(t *testing.T) {
	f := setupTestFixture(t)
	before := f.signIn(t)
	f.api.RotateRefreshTokens(true)
	f.api.ExpireAccessTokens()

	_, err := f.client.PostStats(context.Background())
	require.NoError(t, err)

	after, ok := f.stored(t)
	require.True(t, ok)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)
}

func TestDo_RefreshFailureClearsCredentialsAndNotifies(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)
	f.api.ExpireAccessTokens()
	f.api.FailRefresh(true)

	var notified atomic.Int32
	f.client.OnSessionInvalidated(func(reason error) {
		assert.ErrorIs(t, reason, apperrors.ErrRefreshExhausted)
		notified.Add(1)
	})

	_, err := f.client.ListPosts(context.Background(), posts.ListFilter{})
	require.ErrorIs(t, err, apperrors.ErrRefreshExhausted)

	_, ok := f.stored(t)
	require.False(t, ok)
	require.Equal(t, int32(1), notified.Load())
	require.Len(t, f.api.RequestsTo(http.MethodGet, "/posts/"), 1, "a failed refresh must not replay")
}

func TestDo_ConcurrentRejectionsShareOneRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)
	f.api.ExpireAccessTokens()
	entered, release := f.api.HoldRefresh()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.client.ListPosts(context.Background(), posts.ListFilter{})
		}(i)
	}

	<-entered
	release()
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.api.RefreshCalls())
}

func TestDo_LogoutDuringRefreshKeepsStoreEmpty(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)
	f.api.ExpireAccessTokens()
	entered, release := f.api.HoldRefresh()

	done := make(chan error, 1)
	go func() {
		_, err := f.client.PostStats(context.Background())
		done <- err
	}()

	<-entered
	require.NoError(t, f.store.Clear(context.Background()))
	release()

	err := <-done
	require.ErrorIs(t, err, apperrors.ErrAuthRejected)
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestDo_LateRefreshFailureKeepsNewerSession(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)
	f.api.ExpireAccessTokens()
	f.api.FailRefresh(true)
	entered, release := f.api.HoldRefresh()

	var notified atomic.Int32
	f.client.OnSessionInvalidated(func(error) { notified.Add(1) })

	done := make(chan error, 1)
	go func() {
		_, err := f.client.PostStats(context.Background())
		done <- err
	}()

	<-entered
	newer := f.api.IssueTokens(t, "alice")
	require.NoError(t, f.store.Clear(context.Background()))
	require.NoError(t, f.store.Set(context.Background(), newer))
	release()

	err := <-done
	require.ErrorIs(t, err, apperrors.ErrAuthRejected)
	require.NotErrorIs(t, err, apperrors.ErrRefreshExhausted)
	stored, ok := f.stored(t)
	require.True(t, ok)
	require.Equal(t, newer, stored)
	require.Zero(t, notified.Load())
}

func TestDo_AnonymousRejectionIsNotRefreshed(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)

	_, err := f.client.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.ErrorIs(t, err, apperrors.ErrAuthRejected)
	require.Zero(t, f.api.RefreshCalls())

	_, ok := f.stored(t)
	require.True(t, ok, "a failed login leaves the current session alone")
}

func TestDo_ExplicitTokenRejectionIsNotRefreshed(t *testing.T) {
	f := setupTestFixture(t)
	cred := f.signIn(t)

	_, err := f.client.Profile(context.Background(), apiclient.WithToken("not-a-token"))
	require.ErrorIs(t, err, apperrors.ErrAuthRejected)
	require.Zero(t, f.api.RefreshCalls())

	stored, ok := f.stored(t)
	require.True(t, ok)
	require.Equal(t, cred, stored)
}

func TestDo_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := apiclient.New(credentialsrepofake.NewFakeCredentialStore(),
		apiclient.WithBaseURL(baseURL),
		apiclient.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "alice", "secret")
	require.ErrorIs(t, err, apperrors.ErrNetwork)

	var apiErr *apperrors.APIError
	require.False(t, apperrors.As(err, &apiErr))
}

func TestDo_NonJSONErrorBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})
	client := newScriptedClient(t, handler, credentialsrepofake.NewFakeCredentialStore())

	_, err := client.Login(context.Background(), "alice", "secret")
	require.ErrorIs(t, err, apperrors.ErrServer)

	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Detail)
}

func TestDo_RequestsAreCountedByStatusClass(t *testing.T) {
	f := setupTestFixture(t)
	f.signIn(t)

	_, err := f.client.PostStats(context.Background())
	require.NoError(t, err)
	_, err = f.client.GetPost(context.Background(), 999)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Requests.WithLabelValues("2xx")))
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Requests.WithLabelValues("4xx")))
}

func TestResponse_Decode(t *testing.T) {
	var out map[string]int
	require.NoError(t, (&apiclient.Response{Body: []byte(" ")}).Decode(&out))
	require.Nil(t, out)

	require.NoError(t, (&apiclient.Response{Body: []byte(`{"a":1}`)}).Decode(&out))
	require.Equal(t, 1, out["a"])

	err := (&apiclient.Response{Body: []byte(`{`)}).Decode(&out)
	require.ErrorIs(t, err, apperrors.ErrUnexpected)
}
