package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired signals a terminal authentication failure: either a
	// 401 whose reason is not recoverable, or a failed refresh attempt. The
	// caller must treat it as the end of the current session and direct the
	// user back through a login flow - it is never retried internally.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshFailed is joined onto ErrSessionExpired when the terminal
	// condition was caused by the refresh call itself failing.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrNoRefreshToken is returned by a refresh attempt when no refresh
	// token is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// RequestError carries the status code and response body of any non-2xx
// response that is not a recoverable authentication failure. It is surfaced
// to the caller unchanged, with no retry.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Body)
}
