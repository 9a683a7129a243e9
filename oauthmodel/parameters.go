package oauthmodel

import (
	"net/url"
	"strings"
)

// ResponseModeType denotes where the service placed the callback parameters.
type ResponseModeType string

const (
	// QueryResponseMode parameters are in the URL query string. They reach the server,
	// so tokens are never accepted from here.
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode parameters are in the URL fragment (after #), which the
	// user agent never transmits.
	FragmentResponseMode ResponseModeType = "fragment"
)

// Callback parameter names.
const (
	ParamAccessToken      = "access_token"
	ParamRefreshToken     = "refresh_token"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
	ParamCode             = "code"
)

// CallbackParameters holds the values delivered to /oauth/{provider}/callback.
type CallbackParameters struct {
	// Provider is the identity provider segment of the callback path.
	// Example: "google" for /oauth/google/callback
	Provider string

	// AccessToken and RefreshToken are only ever read from the fragment.
	AccessToken  string
	RefreshToken string

	// Error is the provider or service error, read from the fragment first, then the query.
	Error            string
	ErrorDescription string
	ErrorMode        ResponseModeType

	// Code is a legacy authorization code in the query string.
	Code string
}

// HasTokens reports whether both tokens were delivered.
func (p CallbackParameters) HasTokens() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// ProviderFromPath extracts the provider segment from a path shaped
// /oauth/{provider}/callback. It returns "" when the path does not match.
func ProviderFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "oauth" && segments[i+2] == "callback" {
			return segments[i+1]
		}
	}
	return ""
}

// ParseCallbackParameters reads the callback values from u. The fragment is parsed
// with the same rules as a query string.
func ParseCallbackParameters(u *url.URL) CallbackParameters {
	fragment, _ := url.ParseQuery(u.EscapedFragment())
	query := u.Query()

	params := CallbackParameters{
		Provider:     ProviderFromPath(u.Path),
		AccessToken:  fragment.Get(ParamAccessToken),
		RefreshToken: fragment.Get(ParamRefreshToken),
		Code:         query.Get(ParamCode),
	}

	switch {
	case fragment.Get(ParamError) != "":
		params.Error = fragment.Get(ParamError)
		params.ErrorDescription = fragment.Get(ParamErrorDescription)
		params.ErrorMode = FragmentResponseMode
	case query.Get(ParamError) != "":
		params.Error = query.Get(ParamError)
		params.ErrorDescription = query.Get(ParamErrorDescription)
		params.ErrorMode = QueryResponseMode
	}
	return params
}
