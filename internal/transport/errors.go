package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"meetsync/internal/backoff"
)

// ErrNoToken is returned when a request needs a bearer token and none is stored.
var ErrNoToken = errors.New("no access token")

// HTTPError is a non-2xx, non-429 response.
type HTTPError struct {
	Status int
	Method string
	URL    string
	Class  backoff.Class
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

// Code returns the HTTP status.
func (e *HTTPError) Code() int { return e.Status }

// ThrottleError reports a 429, or a request refused locally because its class is still backing off.
type ThrottleError struct {
	Class      backoff.Class
	RetryAfter time.Duration
	Until      time.Time
	// Local is set when no request reached the server.
	Local bool
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s throttled, retry after %s", e.Class, e.RetryAfter.Round(time.Millisecond))
}

// Code is always 429.
func (e *ThrottleError) Code() int { return http.StatusTooManyRequests }

// IsThrottle reports whether err is or wraps a *ThrottleError.
func IsThrottle(err error) bool {
	var te *ThrottleError
	return errors.As(err, &te)
}

// AsThrottle unwraps a *ThrottleError.
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	ok := errors.As(err, &te)
	return te, ok
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return 0
}

// IsAuth reports a 401/403 or a missing token.
func IsAuth(err error) bool {
	if errors.Is(err, ErrNoToken) {
		return true
	}
	s := StatusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

// IsNotFound reports a 404 or 405, which endpoint probing treats as "try the next one".
func IsNotFound(err error) bool {
	s := StatusOf(err)
	return s == http.StatusNotFound || s == http.StatusMethodNotAllowed
}
