package users

import (
	"strings"
	"time"

	"github.com/jrsteele09/autopost-client/internal/utils"
)

// Profile is the authenticated user as returned by GET /auth/profile/. It is only ever
// decoded from the remote service.
type Profile struct {
	ID         int64     `json:"id"`                   // Unique identifier for the user
	Username   string    `json:"username"`             // Unique username
	Email      string    `json:"email"`                // User's email address
	FirstName  *string   `json:"first_name,omitempty"` // First name of the user
	LastName   *string   `json:"last_name,omitempty"`  // Last name of the user
	DateJoined time.Time `json:"date_joined"`          // Date and time when the user registered
}

// DisplayName returns "First Last" when a name is set, otherwise the username.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	name := strings.TrimSpace(utils.Value(p.FirstName) + " " + utils.Value(p.LastName))
	if name == "" {
		return p.Username
	}
	return name
}

// ProfileUpdate is the body sent to PUT /auth/profile/. Nil fields are left unchanged.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}
