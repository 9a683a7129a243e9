package socialaccounts

import (
	"time"

	"github.com/jrsteele09/autopost-client/posts"
)

// Account is a connected social media account as listed by GET /social-accounts/.
type Account struct {
	ID               int64          `json:"id"`
	Platform         posts.Platform `json:"platform"`
	PlatformUserID   string         `json:"platform_user_id,omitempty"`
	PlatformUsername string         `json:"platform_username,omitempty"`
	IsActive         bool           `json:"is_active"`
	TokenExpiresAt   *time.Time     `json:"token_expires_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ConnectionStatus is one entry of GET /social-accounts/status/, keyed by platform.
type ConnectionStatus struct {
	Platform         posts.Platform `json:"platform"`
	IsConnected      bool           `json:"is_connected"`
	IsActive         bool           `json:"is_active"`
	PlatformUsername *string        `json:"platform_username"`
	ConnectedAt      *time.Time     `json:"connected_at"`
}

// ConnectResponse is returned by POST /oauth/initiate/{platform}/. The caller opens
// AuthURL to let the user authorise the platform.
type ConnectResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state,omitempty"`
}
