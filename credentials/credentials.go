package credentials

import (
	"context"

	"golang.org/x/oauth2"
)

// Persisted key names. Both are written and cleared together.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Credential is the bearer token pair issued by the remote service.
type Credential struct {
	// AccessToken is short-lived and attached to every authenticated call.
	AccessToken string `json:"access"`

	// RefreshToken is longer-lived and only used to mint a new access token.
	RefreshToken string `json:"refresh"`
}

// Complete reports whether both halves of the pair are present.
// An incomplete pair is treated as absent by every reader.
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Token converts the pair to an oauth2 bearer token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
}

// Store is the process-wide durable holder of the credential pair. Implementations
// must write the pair atomically: a reader never observes one half without the other.
type Store interface {
	// Get returns the stored pair; ok is false when no complete pair is stored.
	Get(ctx context.Context) (cred Credential, ok bool, err error)

	// Set replaces the stored pair. Incomplete pairs are rejected.
	Set(ctx context.Context, cred Credential) error

	// Clear removes both halves of the pair.
	Clear(ctx context.Context) error

	// CompareAndSwap replaces the pair with next only if the stored pair equals old.
	CompareAndSwap(ctx context.Context, old, next Credential) (bool, error)

	// CompareAndClear removes the pair only if the stored pair equals old.
	CompareAndClear(ctx context.Context, old Credential) (bool, error)
}
