package oauthmodel_test

import (
	"net/url"
	"testing"

	"github.com/jrsteele09/autopost-client/oauthmodel"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) oauthmodel.CallbackParameters {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return oauthmodel.ParseCallbackParameters(u)
}

func TestProviderFromPath(t *testing.T) {
	require.Equal(t, "google", oauthmodel.ProviderFromPath("/oauth/google/callback"))
	require.Equal(t, "github", oauthmodel.ProviderFromPath("/app/oauth/github/callback/"))
	require.Equal(t, "", oauthmodel.ProviderFromPath("/oauth/callback"))
	require.Equal(t, "", oauthmodel.ProviderFromPath("/dashboard"))
}

func TestParseCallbackParameters_TokensFromFragment(t *testing.T) {
	p := parse(t, "http://localhost:5173/oauth/google/callback#access_token=A1&refresh_token=R1")
	require.Equal(t, "google", p.Provider)
	require.True(t, p.HasTokens())
	require.Equal(t, "A1", p.AccessToken)
	require.Equal(t, "R1", p.RefreshToken)
	require.Empty(t, p.Error)
}

func TestParseCallbackParameters_TokensInQueryAreIgnored(t *testing.T) {
	p := parse(t, "http://localhost:5173/oauth/google/callback?access_token=A1&refresh_token=R1")
	require.False(t, p.HasTokens())
}

func TestParseCallbackParameters_ErrorFragmentWinsOverQuery(t *testing.T) {
	p := parse(t, "http://localhost:5173/oauth/github/callback?error=query_error#error=access_denied")
	require.Equal(t, "access_denied", p.Error)
	require.Equal(t, oauthmodel.FragmentResponseMode, p.ErrorMode)

	p = parse(t, "http://localhost:5173/oauth/github/callback?error=Invalid%20state%20parameter")
	require.Equal(t, "Invalid state parameter", p.Error)
	require.Equal(t, oauthmodel.QueryResponseMode, p.ErrorMode)
}

func TestParseCallbackParameters_Code(t *testing.T) {
	p := parse(t, "http://localhost:5173/oauth/facebook/callback?code=abc&state=xyz")
	require.Equal(t, "abc", p.Code)
	require.False(t, p.HasTokens())
}
