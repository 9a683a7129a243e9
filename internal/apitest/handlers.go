package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/jrsteele09/autopost-client/socialaccounts"
	"github.com/jrsteele09/autopost-client/users"
	"golang.org/x/crypto/bcrypt"
)

const pageSize = 20

type usernameKey struct{}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeTokenNotValid(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"detail": tokenNotValidDetail,
		"code":   "token_not_valid",
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
		return false
	}
	return true
}

func currentUser(r *http.Request) string {
	username, _ := r.Context().Value(usernameKey{}).(string)
	return username
}

func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		claims, err := s.inspect(raw, accessTokenType)
		if err != nil {
			writeTokenNotValid(w)
			return
		}
		s.mu.Lock()
		_, known := s.accounts[claims.Username]
		current := claims.Generation == s.accessGeneration
		s.mu.Unlock()
		if !known || !current {
			writeTokenNotValid(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey{}, claims.Username)))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req oauthmodel.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	fields := map[string][]string{}
	for name, value := range map[string]string{
		"username":  req.Username,
		"email":     req.Email,
		"password":  req.Password,
		"password2": req.Password2,
	} {
		if value == "" {
			fields[name] = []string{"This field is required."}
		}
	}
	if req.Password != "" && req.Password2 != "" && req.Password != req.Password2 {
		fields["password"] = []string{"Password fields didn't match."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"username": {"A user with that username already exists."},
		})
		return
	}
	acc := s.addAccountLocked(req.Username, req.Email, string(hash))

	resp := oauthmodel.RegisterResponse{User: &acc.profile, Message: "User registered successfully"}
	if !s.omitRegTokens {
		access, refresh, err := s.issuePair(req.Username)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Tokens = &oauthmodel.TokenPair{Access: access, Refresh: refresh}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthmodel.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Username and password are required."}})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.passwordHash), []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	access, refresh, err := s.issuePair(req.Username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, oauthmodel.TokenPair{Access: access, Refresh: refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var req oauthmodel.RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	h, fail := s.refreshHold, s.failRefresh
	s.mu.Unlock()
	if h != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
		select {
		case <-h.release:
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		writeTokenNotValid(w)
		return
	}

	claims, err := s.inspect(req.Refresh, refreshTokenType)
	if err != nil {
		writeTokenNotValid(w)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[claims.Username]; !ok || s.blacklisted[claims.JTI] {
		writeTokenNotValid(w)
		return
	}
	access, err := s.mintToken(claims.Username, accessTokenType, s.accessGeneration, accessTokenExpiry)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := oauthmodel.RefreshResponse{Access: access}
	if s.rotateRefresh {
		s.blacklisted[claims.JTI] = true
		resp.Refresh, err = s.mintToken(claims.Username, refreshTokenType, 0, refreshTokenExpiry)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failProfile {
		writeDetail(w, http.StatusInternalServerError, "A server error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, s.accounts[currentUser(r)].profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update users.ProfileUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if update.Email != nil && !strings.Contains(*update.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"Enter a valid email address."}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[currentUser(r)]
	if update.Username != nil && *update.Username != acc.profile.Username {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"username": {"Username cannot be changed."}})
		return
	}
	if update.Email != nil {
		acc.profile.Email = *update.Email
	}
	if update.FirstName != nil {
		acc.profile.FirstName = update.FirstName
	}
	if update.LastName != nil {
		acc.profile.LastName = update.LastName
	}
	writeJSON(w, http.StatusOK, acc.profile)
}

// withFlags sets the edit and cancel flags the way the service does: only pending
// posts that are still in the future can be changed.
func withFlags(p posts.Post) posts.Post {
	open := p.Status == posts.StatusPending && p.ScheduledTime.After(time.Now())
	p.CanEdit = open
	p.CanCancel = open
	return p
}

// ownPost returns the caller's post named by the {id} URL parameter. Callers hold s.mu.
func (s *Server) ownPost(w http.ResponseWriter, r *http.Request) (*ownedPost, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	p, ok := s.posts[id]
	if !ok || p.owner != currentUser(r) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	return p, true
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := currentUser(r)

	s.mu.Lock()
	var matched []posts.Post
	for _, p := range s.posts {
		if p.owner != username {
			continue
		}
		if v := q.Get("platform"); v != "" && string(p.post.Platform) != v {
			continue
		}
		if v := q.Get("status"); v != "" && string(p.post.Status) != v {
			continue
		}
		if v := q.Get("search"); v != "" && !strings.Contains(strings.ToLower(p.post.Content), strings.ToLower(v)) {
			continue
		}
		matched = append(matched, withFlags(p.post))
	}
	s.mu.Unlock()

	switch q.Get("ordering") {
	case "scheduled_time":
		sort.Slice(matched, func(i, j int) bool { return matched[i].ScheduledTime.Before(matched[j].ScheduledTime) })
	case "-scheduled_time":
		sort.Slice(matched, func(i, j int) bool { return matched[i].ScheduledTime.After(matched[j].ScheduledTime) })
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	}

	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || (n-1)*pageSize >= len(matched) && n != 1 {
			writeDetail(w, http.StatusNotFound, "Invalid page.")
			return
		}
		page = n
	}
	start := (page - 1) * pageSize
	end := min(start+pageSize, len(matched))

	resp := posts.Page{Count: len(matched), Results: matched[start:end]}
	if resp.Results == nil {
		resp.Results = []posts.Post{}
	}
	if end < len(matched) {
		next := fmt.Sprintf("%s/posts/?page=%d", s.BaseURL(), page+1)
		resp.Next = &next
	}
	if page > 1 {
		prev := fmt.Sprintf("%s/posts/?page=%d", s.BaseURL(), page-1)
		resp.Previous = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}

func validatePostInput(in posts.Input, partial bool) map[string][]string {
	fields := map[string][]string{}
	if in.Platform != "" && !in.Platform.Valid() {
		fields["platform"] = []string{fmt.Sprintf("\"%s\" is not a valid choice.", in.Platform)}
	}
	if !partial {
		if in.Platform == "" {
			fields["platform"] = []string{"This field is required."}
		}
		if in.Content == "" {
			fields["content"] = []string{"This field is required."}
		}
		if in.ScheduledTime == nil {
			fields["scheduled_time"] = []string{"This field is required."}
		}
	}
	return fields
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var in posts.Input
	if !decodeBody(w, r, &in) {
		return
	}
	if fields := validatePostInput(in, false); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}
	p := s.AddPost(currentUser(r), posts.Post{
		Platform:      in.Platform,
		Content:       in.Content,
		MediaURL:      in.MediaURL,
		ScheduledTime: in.ScheduledTime.UTC(),
	})
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, withFlags(p.post))
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var in posts.Input
	if !decodeBody(w, r, &in) {
		return
	}
	if fields := validatePostInput(in, true); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownPost(w, r)
	if !ok {
		return
	}
	if !withFlags(p.post).CanEdit {
		writeDetail(w, http.StatusBadRequest, "Only pending posts scheduled in the future can be edited.")
		return
	}
	if in.Platform != "" {
		p.post.Platform = in.Platform
	}
	if in.Content != "" {
		p.post.Content = in.Content
	}
	if in.MediaURL != nil {
		p.post.MediaURL = in.MediaURL
	}
	if in.ScheduledTime != nil {
		p.post.ScheduledTime = in.ScheduledTime.UTC()
	}
	p.post.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, withFlags(p.post))
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownPost(w, r)
	if !ok {
		return
	}
	delete(s.posts, p.post.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelPost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ownPost(w, r)
	if !ok {
		return
	}
	if !withFlags(p.post).CanCancel {
		writeDetail(w, http.StatusBadRequest, "This post can no longer be cancelled.")
		return
	}
	p.post.Status = posts.StatusCancelled
	p.post.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, withFlags(p.post))
}

func (s *Server) handlePostStats(w http.ResponseWriter, r *http.Request) {
	username := currentUser(r)
	stats := posts.Stats{ByPlatform: map[posts.Platform]int{}}

	s.mu.Lock()
	for _, p := range s.posts {
		if p.owner != username {
			continue
		}
		stats.Total++
		stats.ByPlatform[p.post.Platform]++
		switch p.post.Status {
		case posts.StatusPending:
			stats.Pending++
		case posts.StatusPosted:
			stats.Posted++
		case posts.StatusFailed:
			stats.Failed++
		case posts.StatusCancelled:
			stats.Cancelled++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListSocialAccounts(w http.ResponseWriter, r *http.Request) {
	username := currentUser(r)
	accounts := []socialaccounts.Account{}

	s.mu.Lock()
	for _, a := range s.social {
		if a.owner == username && a.account.IsActive {
			accounts = append(accounts, a.account)
		}
	}
	s.mu.Unlock()

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleSocialAccountStatus(w http.ResponseWriter, r *http.Request) {
	username := currentUser(r)
	entries := make([]socialaccounts.ConnectionStatus, 0, len(posts.Platforms))

	s.mu.Lock()
	for _, platform := range posts.Platforms {
		entry := socialaccounts.ConnectionStatus{Platform: platform}
		for _, a := range s.social {
			if a.owner != username || a.account.Platform != platform || !a.account.IsActive {
				continue
			}
			name, connectedAt := a.account.PlatformUsername, a.account.CreatedAt
			entry.IsConnected = true
			entry.IsActive = true
			entry.PlatformUsername = &name
			entry.ConnectedAt = &connectedAt
		}
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleInitiateOAuth(w http.ResponseWriter, r *http.Request) {
	platform := posts.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported platform"})
		return
	}
	state := uuid.NewString()
	writeJSON(w, http.StatusOK, socialaccounts.ConnectResponse{
		AuthURL: fmt.Sprintf("https://auth.%s.example/authorize?state=%s", platform, state),
		State:   state,
	})
}

func (s *Server) handleDisconnectSocialAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.social[id]
	if !ok || a.owner != currentUser(r) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	a.account.IsActive = false
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("%s account disconnected", a.account.Platform)})
}
