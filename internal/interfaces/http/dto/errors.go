package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Input error codes
const (
	// ErrCodeValidation is used when binding tags reject the request
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for requests the service cannot interpret
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the body exceeds http.max_body_size
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound       = "ERR_NOT_FOUND"
	ErrCodeSourceNotFound = "ERR_SOURCE_NOT_FOUND"
)

// Sync error codes
const (
	// ErrCodeSourceNotConfigured is used when a run names a source but none is wired
	ErrCodeSourceNotConfigured = "ERR_SOURCE_NOT_CONFIGURED"
	// ErrCodeSourceInvalid is used when the source object cannot be decoded
	ErrCodeSourceInvalid = "ERR_SOURCE_INVALID"
	// ErrCodeSourceUnavailable is used when the object store cannot be reached
	ErrCodeSourceUnavailable = "ERR_SOURCE_UNAVAILABLE"
	// ErrCodeBatchAborted is used when a batch stops on repeated storage failures
	ErrCodeBatchAborted = "ERR_BATCH_ABORTED"
	// ErrCodeStorage is used when the mapping store fails outside a batch
	ErrCodeStorage = "ERR_STORAGE"
	// ErrCodeCancelled is used when the request context ends mid batch
	ErrCodeCancelled = "ERR_CANCELLED"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeSourceNotFound: http.StatusNotFound,

	ErrCodeSourceNotConfigured: http.StatusUnprocessableEntity,
	ErrCodeSourceInvalid:       http.StatusUnprocessableEntity,
	ErrCodeSourceUnavailable:   http.StatusBadGateway,
	ErrCodeBatchAborted:        http.StatusServiceUnavailable,
	ErrCodeStorage:             http.StatusServiceUnavailable,
	ErrCodeCancelled:           http.StatusServiceUnavailable,

	ErrCodeRateLimited: http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
