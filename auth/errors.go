package auth

import (
	"errors"
	"net/http"

	"github.com/sokdak/sokdak/common"
)

var (
	ErrNoSession           = errors.New("no session")
	ErrMissingCodeVerifier = errors.New("no PKCE code verifier stored, start the sign in again")
	ErrInvalidToken        = errors.New("invalid access token")
	// ErrSessionChanged is returned by a refresh whose session was replaced or removed while the
	// request was in flight. The refreshed session is discarded.
	ErrSessionChanged = errors.New("session changed during refresh")
)

// APIError is an error response from the auth server.
type APIError = common.APIError

// isFatalRefreshError reports whether a refresh failure means the refresh token will never work
// again, as opposed to a transient network or server problem.
func isFatalRefreshError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !apiErr.Temporary() && apiErr.Status >= http.StatusBadRequest
}
