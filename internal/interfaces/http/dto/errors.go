package dto

import "net/http"

// Wire error codes. Handlers attach these to the error envelope; clients
// are expected to branch on the code, never on the message text.
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"

	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"

	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
)

// statusByCode decides the HTTP status for each wire code.
var statusByCode = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status for a wire code. Unknown codes
// degrade to 500 so a missing mapping can never mislabel a failure as a
// client error.
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodeToWire translates domain error codes onto the public
// vocabulary. Every invalid-argument variant the domain layer produces
// collapses to ERR_INVALID_INPUT; clients get the detail in the message.
var domainCodeToWire = map[string]string{
	"NOT_FOUND":      ErrCodeNotFound,
	"ALREADY_EXISTS": ErrCodeAlreadyExists,

	"INVALID_AMOUNT":           ErrCodeInvalidInput,
	"INVALID_BALANCE":          ErrCodeInvalidInput,
	"INVALID_COST":             ErrCodeInvalidInput,
	"INVALID_EVENT_KIND":       ErrCodeInvalidInput,
	"INVALID_TENANT":           ErrCodeInvalidInput,
	"INVALID_TRANSACTION_TYPE": ErrCodeInvalidInput,
	"UNKNOWN_PACK":             ErrCodeInvalidInput,
}

// NormalizeErrorCode converts a domain error code to its wire form.
// Codes already in wire form, and unknown codes, pass through unchanged.
func NormalizeErrorCode(code string) string {
	if wireCode, ok := domainCodeToWire[code]; ok {
		return wireCode
	}
	return code
}
