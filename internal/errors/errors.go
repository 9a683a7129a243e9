package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/autopost-client/internal/utils"
)

// Error taxonomy shared by the client packages
var (
	// Transport errors
	ErrNetwork = errors.New("network error")

	// Authentication errors
	ErrAuthRejected       = errors.New("authorization rejected")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshExhausted   = errors.New("token refresh failed")

	// Credential errors
	ErrIncompleteCredential = errors.New("incomplete credential pair")
	ErrNoCredential         = errors.New("no stored credential")

	// Remote service errors
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrServer     = errors.New("server error")
	ErrUnexpected = errors.New("unexpected response")
)

// APIError is an HTTP error response returned by the remote service.
// It unwraps to the sentinel matching its status code.
type APIError struct {
	StatusCode int
	Detail     string
	Fields     map[string][]string // field keyed validation messages
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for field, msgs := range e.Fields {
			parts = append(parts, field+": "+strings.Join(msgs, " "))
		}
		return fmt.Sprintf("api error %d: %s", e.StatusCode, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrAuthRejected
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusBadRequest:
		return ErrValidation
	case e.StatusCode >= 500:
		return ErrServer
	}
	return ErrUnexpected
}

// FieldErrors returns the validation messages for field, if any.
func (e *APIError) FieldErrors(field string) []string {
	return e.Fields[field]
}

// NewAPIError builds an APIError from a decoded JSON error body. DRF style bodies are
// either {"detail": "..."}, {"error": "..."} or {"field": ["msg", ...]}.
func NewAPIError(statusCode int, body map[string]any) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	for key, value := range body {
		switch key {
		case "detail", "error", "message":
			if s, ok := value.(string); ok && apiErr.Detail == "" {
				apiErr.Detail = s
				continue
			}
		}
		var msgs []string
		switch v := value.(type) {
		case string:
			msgs = []string{v}
		case []any:
			msgs = utils.ToStringSlice(v)
		}
		if len(msgs) == 0 {
			continue
		}
		if apiErr.Fields == nil {
			apiErr.Fields = make(map[string][]string)
		}
		apiErr.Fields[key] = msgs
	}
	return apiErr
}

// Network wraps a transport failure so that it matches ErrNetwork.
func Network(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
