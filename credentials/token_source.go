package credentials

import (
	"context"

	apperrors "github.com/jrsteele09/autopost-client/internal/errors"
	"golang.org/x/oauth2"
)

// storeTokenSource reads the current pair on every Token call; it never caches.
type storeTokenSource struct {
	ctx   context.Context
	store Store
}

var _ oauth2.TokenSource = (*storeTokenSource)(nil)

// TokenSource exposes the store as an oauth2.TokenSource. Token returns
// ErrNoCredential when no complete pair is stored.
func TokenSource(ctx context.Context, store Store) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: store}
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	cred, ok, err := ts.store.Get(ts.ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrNoCredential
	}
	return cred.Token(), nil
}
