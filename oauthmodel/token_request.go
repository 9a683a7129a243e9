package oauthmodel

import "github.com/jrsteele09/autopost-client/users"

// LoginRequest is the body sent to POST /auth/login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body sent to POST /auth/register/.
// Password2 is the confirmation the service compares against Password.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

// TokenPair is the token response of the login endpoint and the "tokens" object
// embedded in the registration response.
type TokenPair struct {
	// Access is the short-lived JWT sent as "Authorization: Bearer <access>".
	Access string `json:"access"`

	// Refresh is the long-lived token exchanged at /auth/token/refresh/.
	Refresh string `json:"refresh"`
}

// RegisterResponse is returned by POST /auth/register/. Tokens is nil when the service
// does not issue tokens on registration.
type RegisterResponse struct {
	User    *users.Profile `json:"user,omitempty"`
	Tokens  *TokenPair     `json:"tokens,omitempty"`
	Message string         `json:"message,omitempty"`
}

// RefreshRequest is the body sent to POST /auth/token/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse carries the new access token. Refresh is only present when the
// service rotates refresh tokens.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}
