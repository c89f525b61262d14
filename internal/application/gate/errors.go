package gate

import (
	"net/http"

	"github.com/automna/backend/internal/domain/billing"
)

// AuthError rejects a request at the authentication step. The message is
// deliberately uniform: callers cannot distinguish an unknown token from
// an inactive one.
type AuthError struct {
	Message string
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return e.Message
}

// HTTPStatusCode returns the HTTP status code for this error (401 Unauthorized)
func (e *AuthError) HTTPStatusCode() int {
	return http.StatusUnauthorized
}

// NewAuthError creates a new AuthError
func NewAuthError(message string) *AuthError {
	return &AuthError{Message: message}
}

// RateLimitedError rejects a request at the quota step. It carries the
// full gate snapshot so the transport layer can render the limit payload.
type RateLimitedError struct {
	Result *billing.RateLimitResult
}

// Error implements the error interface
func (e *RateLimitedError) Error() string {
	return e.Result.Reason
}

// HTTPStatusCode returns the HTTP status code for this error (429 Too Many Requests)
func (e *RateLimitedError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

// RetryAfterSeconds returns the Retry-After value, 0 when the header must
// be omitted (monthly gate rejections).
func (e *RateLimitedError) RetryAfterSeconds() int64 {
	return e.Result.RetryAfter
}
