package binance

import "fmt"

// AuthCodeUnauthorized is the single taxonomy code all auth-layer failures
// surface under.
const AuthCodeUnauthorized = 2001

// AuthError wraps any authorization failure with the taxonomy code and the
// upstream reason.
type AuthError struct {
	Code   int
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed (%d): %s", e.Code, e.Reason)
}

// StatusError is returned for any REST response with HTTP status >= 300.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
