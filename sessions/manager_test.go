package sessions_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jrsteele09/autopost-client/apiclient"
	"github.com/jrsteele09/autopost-client/credentials"
	credentialsrepofake "github.com/jrsteele09/autopost-client/credentials/repofake"
	"github.com/jrsteele09/autopost-client/internal/apitest"
	"github.com/jrsteele09/autopost-client/internal/config"
	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/internal/utils"
	"github.com/jrsteele09/autopost-client/navigation/navfake"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/refresh"
	"github.com/jrsteele09/autopost-client/sessions"
	"github.com/jrsteele09/autopost-client/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testRoutes struct {
	config.Session
}

func (testRoutes) GetRedirectDelay() time.Duration {
	return 20 * time.Millisecond
}

type testFixture struct {
	api     *apitest.Server
	store   *credentialsrepofake.FakeCredentialStore
	client  *apiclient.Client
	nav     *navfake.Recorder
	manager *sessions.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	api := apitest.New(t)
	api.AddUser(t, "alice", "a@x.com", "secret")

	store := credentialsrepofake.NewFakeCredentialStore()
	client, err := apiclient.New(store, apiclient.WithBaseURL(api.BaseURL()), apiclient.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	nav := navfake.NewRecorder()
	manager, err := sessions.New(client, store, nav, testRoutes{}, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return &testFixture{api: api, store: store, client: client, nav: nav, manager: manager}
}

func (f *testFixture) stored(t *testing.T) (credentials.Credential, bool) {
	t.Helper()
	cred, ok, err := f.store.Get(context.Background())
	require.NoError(t, err)
	return cred, ok
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := sessions.New(nil, credentialsrepofake.NewFakeCredentialStore(), navfake.NewRecorder(), testRoutes{})
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)

	user, err := f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, "a@x.com", user.Email)
	require.True(t, f.manager.IsAuthenticated())
	require.Equal(t, "alice", f.manager.User().Username)

	_, ok := f.stored(t)
	require.True(t, ok)
}

func TestLogin_InvalidCredentialsChangeNothing(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.False(t, f.manager.IsAuthenticated())
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestLogin_ProfileFailureStoresNothing(t *testing.T) {
	f := setupTestFixture(t)
	f.api.FailProfile(true)

	_, err := f.manager.Login(context.Background(), "alice", "secret")
	require.ErrorIs(t, err, apperrors.ErrServer)
	require.False(t, f.manager.IsAuthenticated())
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestRegister_WithTokens(t *testing.T) {
	f := setupTestFixture(t)

	user, err := f.manager.Register(context.Background(), oauthmodel.RegisterRequest{
		Username: "bob", Email: "b@x.com", Password: "pw-123456", Password2: "pw-123456",
	})
	require.NoError(t, err)
	require.Equal(t, "bob", user.Username)
	require.True(t, f.manager.IsAuthenticated())
	require.Empty(t, f.api.RequestsTo(http.MethodPost, "/auth/login/"))
}

func TestRegister_WithoutTokensSignsIn(t *testing.T) {
	f := setupTestFixture(t)
	f.api.OmitRegistrationTokens(true)

	user, err := f.manager.Register(context.Background(), oauthmodel.RegisterRequest{
		Username: "bob", Email: "b@x.com", Password: "pw-123456", Password2: "pw-123456",
	})
	require.NoError(t, err)
	require.Equal(t, "bob", user.Username)
	require.Len(t, f.api.RequestsTo(http.MethodPost, "/auth/login/"), 1)

	_, ok := f.stored(t)
	require.True(t, ok)
}

func TestRegister_ValidationError(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.Register(context.Background(), oauthmodel.RegisterRequest{
		Username: "bob", Email: "b@x.com", Password: "one", Password2: "two",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotEmpty(t, apiErr.FieldErrors("password"))
	require.False(t, f.manager.IsAuthenticated())
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	f.manager.Logout(context.Background())

	require.False(t, f.manager.IsAuthenticated())
	require.Nil(t, f.manager.User())
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestLogout_CancelsPendingRedirect(t *testing.T) {
	f := setupTestFixture(t)
	task := f.manager.ScheduleRedirect(context.Background(), time.Hour, "/login")

	f.manager.Logout(context.Background())

	<-task.Done()
	require.False(t, task.Fired())
	require.Empty(t, f.nav.Routes())
}

func TestInit_RestoresStoredSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.Set(context.Background(), f.api.IssueTokens(t, "alice")))

	user := f.manager.Init(context.Background())
	require.NotNil(t, user)
	require.Equal(t, "alice", user.Username)
	require.True(t, f.manager.IsAuthenticated())
}

func TestInit_RefreshesExpiredAccessToken(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.Set(context.Background(), f.api.IssueTokens(t, "alice")))
	f.api.ExpireAccessTokens()

	require.NotNil(t, f.manager.Init(context.Background()))
	require.Equal(t, 1, f.api.RefreshCalls())
}

func TestInit_FailureClearsStore(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.Set(context.Background(), f.api.IssueTokens(t, "alice")))
	f.api.FailProfile(true)

	require.Nil(t, f.manager.Init(context.Background()))
	require.False(t, f.manager.IsAuthenticated())
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestInit_EmptyStore(t *testing.T) {
	f := setupTestFixture(t)

	require.Nil(t, f.manager.Init(context.Background()))
	require.Empty(t, f.api.Requests())
}

func TestRefreshFailureTearsDownSessionAndNavigatesToLogin(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	f.api.ExpireAccessTokens()
	f.api.FailRefresh(true)

	_, err = f.client.PostStats(context.Background())
	require.ErrorIs(t, err, apperrors.ErrRefreshExhausted)

	require.False(t, f.manager.IsAuthenticated())
	require.Equal(t, []string{"/login"}, f.nav.Routes())
	_, ok := f.stored(t)
	require.False(t, ok)
}

func TestLateRefreshFailureDoesNotEndNewLogin(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	f.api.ExpireAccessTokens()
	f.api.FailRefresh(true)
	entered, release := f.api.HoldRefresh()

	done := make(chan error, 1)
	go func() {
		_, err := f.client.PostStats(context.Background())
		done <- err
	}()

	<-entered
	f.manager.Logout(context.Background())
	_, err = f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	fresh, ok := f.stored(t)
	require.True(t, ok)
	release()

	require.ErrorIs(t, <-done, apperrors.ErrAuthRejected)
	require.True(t, f.manager.IsAuthenticated())
	require.Empty(t, f.nav.Routes())
	stored, ok := f.stored(t)
	require.True(t, ok)
	require.Equal(t, fresh, stored)
}

func TestUpdateProfile(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.manager.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	user, err := f.manager.UpdateProfile(context.Background(), users.ProfileUpdate{LastName: utils.Ptr("Liddell")})
	require.NoError(t, err)
	require.Equal(t, "Liddell", utils.Value(user.LastName))
	require.Equal(t, "Liddell", utils.Value(f.manager.User().LastName))
}

// gatedAPI answers Login immediately and holds Profile until released.
type gatedAPI struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAPI) Login(context.Context, string, string) (*oauthmodel.TokenPair, error) {
	return &oauthmodel.TokenPair{Access: "A1", Refresh: "R1"}, nil
}

func (g *gatedAPI) Register(context.Context, oauthmodel.RegisterRequest) (*oauthmodel.RegisterResponse, error) {
	return &oauthmodel.RegisterResponse{}, nil
}

func (g *gatedAPI) Profile(context.Context, ...apiclient.CallOption) (*users.Profile, error) {
	g.entered <- struct{}{}
	<-g.release
	return &users.Profile{ID: 1, Username: "alice", Email: "a@x.com"}, nil
}

func (g *gatedAPI) UpdateProfile(context.Context, users.ProfileUpdate) (*users.Profile, error) {
	return nil, apperrors.ErrUnexpected
}

func (g *gatedAPI) OnSessionInvalidated(refresh.InvalidationHandler) func() {
	return func() {}
}

func TestLogoutDuringLoginDiscardsLateSuccess(t *testing.T) {
	api := &gatedAPI{entered: make(chan struct{}), release: make(chan struct{})}
	store := credentialsrepofake.NewFakeCredentialStore()
	manager, err := sessions.New(api, store, navfake.NewRecorder(), testRoutes{}, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := manager.Login(context.Background(), "alice", "secret")
		done <- err
	}()

	<-api.entered
	manager.Logout(context.Background())
	close(api.release)

	require.ErrorIs(t, <-done, sessions.ErrSessionEnded)
	require.False(t, manager.IsAuthenticated())
	_, ok, err := store.Get(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
