package integration

import (
	"context"
	"errors"
)

// Domain errors for catalog synchronization
var (
	// Record validation errors
	ErrRecordMissingKey = errors.New("integration: record identity key is required")

	// Mapping store errors
	ErrMappingNotFound = errors.New("integration: identity mapping not found")
	ErrMappingInvalid  = errors.New("integration: identity mapping is invalid")
	ErrMappingStorage  = errors.New("integration: identity mapping storage failure")

	// Remote catalog errors
	ErrPlatformNotConfigured   = errors.New("integration: catalog platform not configured")
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed   = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse = errors.New("integration: invalid response from platform")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limit exceeded")

	// Batch errors
	ErrBatchAborted = errors.New("integration: batch aborted after repeated storage failures")
)

// Failure codes reported in batch results
const (
	CodeRemoteUnavailable     = "REMOTE_UNAVAILABLE"
	CodeRemoteRequestFailed   = "REMOTE_REQUEST_FAILED"
	CodeRemoteAuthFailed      = "REMOTE_AUTH_FAILED"
	CodeRemoteRateLimited     = "REMOTE_RATE_LIMITED"
	CodeRemoteInvalidResponse = "REMOTE_INVALID_RESPONSE"
	CodeRemoteNotConfigured   = "REMOTE_NOT_CONFIGURED"
	CodeStorageError          = "STORAGE_ERROR"
	CodeBatchAborted          = "BATCH_ABORTED"
	CodeCancelled             = "CANCELLED"
	CodeInvalidRecord         = "INVALID_RECORD"
	CodeUnknown               = "UNKNOWN"
)

// ErrorCode classifies an error into a stable failure code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBatchAborted):
		return CodeBatchAborted
	case errors.Is(err, ErrMappingStorage):
		return CodeStorageError
	case errors.Is(err, ErrPlatformRateLimited):
		return CodeRemoteRateLimited
	case errors.Is(err, ErrPlatformAuthFailed):
		return CodeRemoteAuthFailed
	case errors.Is(err, ErrPlatformUnavailable):
		return CodeRemoteUnavailable
	case errors.Is(err, ErrPlatformInvalidResponse):
		return CodeRemoteInvalidResponse
	case errors.Is(err, ErrPlatformRequestFailed):
		return CodeRemoteRequestFailed
	case errors.Is(err, ErrPlatformNotConfigured):
		return CodeRemoteNotConfigured
	case errors.Is(err, ErrRecordMissingKey):
		return CodeInvalidRecord
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeUnknown
	}
}

// IsRetryable reports whether a remote error may succeed after backing off.
// Only throttling responses qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPlatformRateLimited)
}
