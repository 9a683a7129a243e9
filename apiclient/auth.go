package apiclient

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/jrsteele09/autopost-client/users"
	"github.com/pkg/errors"
)

const (
	registerPath     = "/auth/register/"
	loginPath        = "/auth/login/"
	profilePath      = "/auth/profile/"
	tokenRefreshPath = "/auth/token/refresh/"
)

// Register creates an account. Tokens in the response are nil when the service does
// not sign the new user in. Field errors are reported as *apperrors.APIError matching
// apperrors.ErrValidation.
func (c *Client) Register(ctx context.Context, req oauthmodel.RegisterRequest) (*oauthmodel.RegisterResponse, error) {
	var out oauthmodel.RegisterResponse
	if err := c.call(ctx, Request{Method: http.MethodPost, Path: registerPath, Body: req, Anonymous: true}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Register]")
	}
	return &out, nil
}

// Login exchanges a username and password for a token pair. A rejected login matches
// both apperrors.ErrInvalidCredentials and apperrors.ErrAuthRejected.
func (c *Client) Login(ctx context.Context, username, password string) (*oauthmodel.TokenPair, error) {
	var out oauthmodel.TokenPair
	body := oauthmodel.LoginRequest{Username: username, Password: password}
	err := c.call(ctx, Request{Method: http.MethodPost, Path: loginPath, Body: body, Anonymous: true}, &out)
	if errors.Is(err, apperrors.ErrAuthRejected) {
		return nil, fmt.Errorf("[Client.Login] %w: %w", apperrors.ErrInvalidCredentials, err)
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	if out.Access == "" || out.Refresh == "" {
		return nil, errors.Wrap(apperrors.ErrIncompleteCredential, "[Client.Login]")
	}
	return &out, nil
}

// Profile returns the signed in user.
func (c *Client) Profile(ctx context.Context, options ...CallOption) (*users.Profile, error) {
	o := applyCallOptions(options)
	var out users.Profile
	if err := c.call(ctx, Request{Method: http.MethodGet, Path: profilePath, Token: o.token}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.Profile]")
	}
	return &out, nil
}

// UpdateProfile changes the signed in user's details and returns the stored result.
func (c *Client) UpdateProfile(ctx context.Context, update users.ProfileUpdate) (*users.Profile, error) {
	var out users.Profile
	if err := c.call(ctx, Request{Method: http.MethodPut, Path: profilePath, Body: update}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateProfile]")
	}
	return &out, nil
}

// RefreshToken exchanges refreshToken for a new access token. It never triggers a
// refresh itself.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauthmodel.RefreshResponse, error) {
	if refreshToken == "" {
		return nil, errors.Wrap(apperrors.ErrNoCredential, "[Client.RefreshToken] no refresh token")
	}
	var out oauthmodel.RefreshResponse
	body := oauthmodel.RefreshRequest{Refresh: refreshToken}
	if err := c.call(ctx, Request{Method: http.MethodPost, Path: tokenRefreshPath, Body: body, Anonymous: true}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshToken]")
	}
	return &out, nil
}

// call sends req and decodes a successful body into out.
func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
