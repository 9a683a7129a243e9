// Package apitest runs an in-process fake of the post scheduling service for tests.
//
// It issues HS256 JWT pairs, checks bcrypt hashed passwords and serves the auth,
// post and social account endpoints under /api. Hooks let a test expire access
// tokens, fail or hold token refreshes and inspect the requests it received.
package apitest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/autopost-client/credentials"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/jrsteele09/autopost-client/socialaccounts"
	"github.com/jrsteele09/autopost-client/users"
	"golang.org/x/crypto/bcrypt"
)

// RecordedRequest is one request received by the fake service.
type RecordedRequest struct {
	Method        string
	Path          string // without the /api prefix
	Authorization string
	RequestID     string
}

type account struct {
	profile      users.Profile
	passwordHash string
}

// Server is a fake remote service bound to a local listener.
type Server struct {
	*httptest.Server

	key          []byte
	refreshCalls atomic.Int32

	mu               sync.Mutex
	accounts         map[string]*account
	posts            map[int64]*ownedPost
	social           map[int64]*ownedAccount
	blacklisted      map[string]bool // refresh token jti
	requests         []RecordedRequest
	nextUserID       int64
	nextPostID       int64
	nextSocialID     int64
	accessGeneration int
	rotateRefresh    bool
	omitRegTokens    bool
	failRefresh      bool
	failProfile      bool
	refreshHold      *hold
}

type ownedPost struct {
	owner string
	post  posts.Post
}

type ownedAccount struct {
	owner   string
	account socialaccounts.Account
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// New starts a fake service that is closed when the test ends.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		key:         []byte("apitest-signing-key-" + t.Name()),
		accounts:    make(map[string]*account),
		posts:       make(map[int64]*ownedPost),
		social:      make(map[int64]*ownedAccount),
		blacklisted: make(map[string]bool),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to configure clients with.
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.recordRequest)

		r.Post("/auth/register/", s.handleRegister)
		r.Post("/auth/login/", s.handleLogin)
		r.Post("/auth/token/refresh/", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccessToken)

			r.Get("/auth/profile/", s.handleGetProfile)
			r.Put("/auth/profile/", s.handleUpdateProfile)

			r.Get("/posts/", s.handleListPosts)
			r.Post("/posts/", s.handleCreatePost)
			r.Get("/posts/stats/", s.handlePostStats)
			r.Get("/posts/{id}/", s.handleGetPost)
			r.Put("/posts/{id}/", s.handleUpdatePost)
			r.Delete("/posts/{id}/", s.handleDeletePost)
			r.Post("/posts/{id}/cancel/", s.handleCancelPost)

			r.Get("/social-accounts/", s.handleListSocialAccounts)
			r.Get("/social-accounts/status/", s.handleSocialAccountStatus)
			r.Post("/social-accounts/{id}/disconnect/", s.handleDisconnectSocialAccount)
			r.Post("/oauth/initiate/{platform}/", s.handleInitiateOAuth)
		})
	})
	return r
}

// AddUser registers an account directly and returns its profile.
func (s *Server) AddUser(t *testing.T, username, email, password string) users.Profile {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(username, email, string(hash)).profile
}

func (s *Server) addAccountLocked(username, email, passwordHash string) *account {
	s.nextUserID++
	acc := &account{
		profile: users.Profile{
			ID:         s.nextUserID,
			Username:   username,
			Email:      email,
			DateJoined: time.Now().UTC().Truncate(time.Second),
		},
		passwordHash: passwordHash,
	}
	s.accounts[username] = acc
	return acc
}

// IssueTokens returns a valid pair for username without going through login.
func (s *Server) IssueTokens(t *testing.T, username string) credentials.Credential {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	access, refresh, err := s.issuePair(username)
	if err != nil {
		t.Fatalf("issuePair: %v", err)
	}
	return credentials.Credential{AccessToken: access, RefreshToken: refresh}
}

// ExpireAccessTokens makes every access token issued so far rejected with 401.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessGeneration++
}

// FailRefresh makes the refresh endpoint reject every refresh token.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// FailProfile makes GET /auth/profile/ answer 500.
func (s *Server) FailProfile(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProfile = fail
}

// RotateRefreshTokens makes a refresh return a new refresh token and blacklist the
// one that was used.
func (s *Server) RotateRefreshTokens(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateRefresh = rotate
}

// OmitRegistrationTokens makes registration answer without a token pair.
func (s *Server) OmitRegistrationTokens(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitRegTokens = omit
}

// HoldRefresh makes refresh requests wait until release is called. entered receives
// once per refresh request that reaches the hold.
func (s *Server) HoldRefresh() (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}, 16), release: make(chan struct{})}
	s.mu.Lock()
	s.refreshHold = h
	s.mu.Unlock()

	var once sync.Once
	return h.entered, func() {
		once.Do(func() { close(h.release) })
	}
}

// RefreshCalls counts requests received by the refresh endpoint.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// Requests returns the requests received so far, oldest first.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the recorded requests for method and path.
func (s *Server) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// AddPost stores p for username, assigning its ID and timestamps.
func (s *Server) AddPost(username string, p posts.Post) posts.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPostID++
	p.ID = s.nextPostID
	if acc, ok := s.accounts[username]; ok {
		p.UserID = acc.profile.ID
	}
	if p.Status == "" {
		p.Status = posts.StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	s.posts[p.ID] = &ownedPost{owner: username, post: p}
	return withFlags(p)
}

// AddSocialAccount connects a platform account for username.
func (s *Server) AddSocialAccount(username string, platform posts.Platform, platformUsername string) socialaccounts.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSocialID++
	a := socialaccounts.Account{
		ID:               s.nextSocialID,
		Platform:         platform,
		PlatformUsername: platformUsername,
		IsActive:         true,
		CreatedAt:        time.Now().UTC(),
	}
	s.social[a.ID] = &ownedAccount{owner: username, account: a}
	return a
}

func (s *Server) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path[len("/api"):],
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}
