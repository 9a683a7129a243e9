package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/jrsteele09/autopost-client/socialaccounts"
	"github.com/pkg/errors"
)

const (
	socialAccountsPath      = "/social-accounts/"
	socialAccountStatusPath = "/social-accounts/status/"
)

// ListSocialAccounts returns the user's connected platform accounts.
func (c *Client) ListSocialAccounts(ctx context.Context) ([]socialaccounts.Account, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: socialAccountsPath})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListSocialAccounts]")
	}
	accounts, err := decodeList[socialaccounts.Account](resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListSocialAccounts]")
	}
	return accounts, nil
}

// SocialAccountStatus reports, for every platform, whether an account is connected.
func (c *Client) SocialAccountStatus(ctx context.Context) (map[posts.Platform]socialaccounts.ConnectionStatus, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: socialAccountStatusPath})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SocialAccountStatus]")
	}
	entries, err := decodeList[socialaccounts.ConnectionStatus](resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SocialAccountStatus]")
	}
	status := make(map[posts.Platform]socialaccounts.ConnectionStatus, len(entries))
	for _, entry := range entries {
		status[entry.Platform] = entry
	}
	return status, nil
}

// ConnectSocialAccount starts the platform authorisation. The user completes it by
// opening the returned AuthURL.
func (c *Client) ConnectSocialAccount(ctx context.Context, platform posts.Platform) (*socialaccounts.ConnectResponse, error) {
	if !platform.Valid() {
		return nil, errors.Wrapf(apperrors.ErrValidation, "[Client.ConnectSocialAccount] unknown platform %q", platform)
	}
	var out socialaccounts.ConnectResponse
	path := fmt.Sprintf("/oauth/initiate/%s/", platform)
	if err := c.call(ctx, Request{Method: http.MethodPost, Path: path}, &out); err != nil {
		return nil, errors.Wrapf(err, "[Client.ConnectSocialAccount] %s", platform)
	}
	return &out, nil
}

func (c *Client) DisconnectSocialAccount(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/social-accounts/%d/disconnect/", id)
	if _, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path}); err != nil {
		return errors.Wrapf(err, "[Client.DisconnectSocialAccount] %d", id)
	}
	return nil
}

// decodeList accepts a bare JSON list or a paginated {"results": [...]} body.
func decodeList[T any](body []byte) ([]T, error) {
	var list []T
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrapf(apperrors.ErrUnexpected, "decode list: %v", err)
	}
	return page.Results, nil
}
