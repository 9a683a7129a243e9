package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"github.com/jrsteele09/autopost-client/posts"
	"github.com/pkg/errors"
)

const (
	postsPath     = "/posts/"
	postStatsPath = "/posts/stats/"
)

func postPath(id int64) string {
	return fmt.Sprintf("/posts/%d/", id)
}

// ListPosts returns one page of the user's posts. A service that does not paginate
// answers with a bare list, which is returned as a single page.
func (c *Client) ListPosts(ctx context.Context, filter posts.ListFilter) (*posts.Page, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: postsPath, Query: filter.Values()})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListPosts]")
	}
	page, err := decodePage(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.ListPosts]")
	}
	return page, nil
}

func decodePage(body []byte) (*posts.Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []posts.Post
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, errors.Wrapf(apperrors.ErrUnexpected, "decode post list: %v", err)
		}
		return &posts.Page{Count: len(list), Results: list}, nil
	}
	var page posts.Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrapf(apperrors.ErrUnexpected, "decode post page: %v", err)
	}
	return &page, nil
}

func (c *Client) GetPost(ctx context.Context, id int64) (*posts.Post, error) {
	var out posts.Post
	if err := c.call(ctx, Request{Method: http.MethodGet, Path: postPath(id)}, &out); err != nil {
		return nil, errors.Wrapf(err, "[Client.GetPost] %d", id)
	}
	return &out, nil
}

// CreatePost schedules a new post. Platform, Content and ScheduledTime are required.
func (c *Client) CreatePost(ctx context.Context, input posts.Input) (*posts.Post, error) {
	if !input.Platform.Valid() {
		return nil, errors.Wrapf(apperrors.ErrValidation, "[Client.CreatePost] unknown platform %q", input.Platform)
	}
	if input.Content == "" || input.ScheduledTime == nil {
		return nil, errors.Wrap(apperrors.ErrValidation, "[Client.CreatePost] content and scheduled time are required")
	}
	var out posts.Post
	if err := c.call(ctx, Request{Method: http.MethodPost, Path: postsPath, Body: input}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.CreatePost]")
	}
	return &out, nil
}

// UpdatePost changes a pending post. The service refuses posts whose CanEdit is false.
func (c *Client) UpdatePost(ctx context.Context, id int64, input posts.Input) (*posts.Post, error) {
	if input.Platform != "" && !input.Platform.Valid() {
		return nil, errors.Wrapf(apperrors.ErrValidation, "[Client.UpdatePost] unknown platform %q", input.Platform)
	}
	var out posts.Post
	if err := c.call(ctx, Request{Method: http.MethodPut, Path: postPath(id), Body: input}, &out); err != nil {
		return nil, errors.Wrapf(err, "[Client.UpdatePost] %d", id)
	}
	return &out, nil
}

func (c *Client) DeletePost(ctx context.Context, id int64) error {
	if _, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: postPath(id)}); err != nil {
		return errors.Wrapf(err, "[Client.DeletePost] %d", id)
	}
	return nil
}

// CancelPost stops a pending post from being published. The returned post is nil when
// the service answers without a body.
func (c *Client) CancelPost(ctx context.Context, id int64) (*posts.Post, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: postPath(id) + "cancel/"})
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.CancelPost] %d", id)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	var out posts.Post
	if err := resp.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "[Client.CancelPost] %d", id)
	}
	return &out, nil
}

func (c *Client) PostStats(ctx context.Context) (*posts.Stats, error) {
	var out posts.Stats
	if err := c.call(ctx, Request{Method: http.MethodGet, Path: postStatsPath}, &out); err != nil {
		return nil, errors.Wrap(err, "[Client.PostStats]")
	}
	return &out, nil
}
