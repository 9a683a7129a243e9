package config

import "time"

type SessionConfig interface {
	GetLoginRoute() string
	GetDashboardRoute() string
	GetRedirectDelay() time.Duration
	GetOAuthProviders() []string
}

type Session struct{}

func (Session) GetLoginRoute() string {
	return "/login"
}

func (Session) GetDashboardRoute() string {
	return "/dashboard"
}

// GetOAuthProviders lists the identity providers the service can redirect back from.
func (Session) GetOAuthProviders() []string {
	return []string{"google", "facebook", "github"}
}
