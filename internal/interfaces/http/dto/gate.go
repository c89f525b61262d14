package dto

import "github.com/automna/backend/internal/domain/billing"

// Wire error types used on gated routes. These follow the upstream AI API
// convention rather than the dashboard envelope, so that SDK clients of
// the proxied services can parse gateway rejections the same way they
// parse upstream errors.
const (
	WireErrorAuthentication = "authentication_error"
	WireErrorRateLimit      = "rate_limit_error"
	WireErrorAPI            = "api_error"
)

// WireError is the response body for a request rejected at the gate
type WireError struct {
	Type   string                  `json:"type"` // Always "error"
	Error  WireErrorDetail         `json:"error"`
	Limits *billing.LimitsSnapshot `json:"limits,omitempty"`
}

// WireErrorDetail carries the error class and a human-readable message
type WireErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAuthenticationError builds the 401 body for gated routes
func NewAuthenticationError(message string) WireError {
	return WireError{
		Type:  "error",
		Error: WireErrorDetail{Type: WireErrorAuthentication, Message: message},
	}
}

// NewRateLimitError builds the 429 body for gated routes. The snapshot is
// included so clients can see both gates without a second round trip.
func NewRateLimitError(message string, limits billing.LimitsSnapshot) WireError {
	return WireError{
		Type:   "error",
		Error:  WireErrorDetail{Type: WireErrorRateLimit, Message: message},
		Limits: &limits,
	}
}

// NewAPIError builds the body for an internal failure on a gated route
func NewAPIError(message string) WireError {
	return WireError{
		Type:  "error",
		Error: WireErrorDetail{Type: WireErrorAPI, Message: message},
	}
}
