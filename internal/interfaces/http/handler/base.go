package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	appsync "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ingest"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/storage"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/dto"
	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/middleware"
)

// RequestIDHeader carries the request id
const RequestIDHeader = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(logger.FieldRequestID); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		getRequestID(c),
		details,
	))
}

// BindJSON binds the request body and answers the failure itself. It returns
// false when the handler should stop.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	var (
		validationErrs validator.ValidationErrors
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		tooLarge       *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validationErrs):
		h.ValidationError(c, middleware.ValidationDetails(validationErrs))
	case errors.As(err, &tooLarge):
		h.ErrorWithCode(c, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		h.ErrorWithCode(c, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
	case errors.Is(err, io.EOF):
		h.BadRequest(c, "Request body is empty")
	default:
		h.BadRequest(c, err.Error())
	}
	return false
}

// HandleError converts service and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	code := errorCode(err)
	if code == dto.ErrCodeInternal {
		logger.GetGinLogger(c).Error("Unhandled error", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
		return
	}
	h.ErrorWithCode(c, code, err.Error())
}

// errorCode classifies an error returned by the sync service
func errorCode(err error) string {
	switch {
	case errors.Is(err, appsync.ErrEmptyRunRequest),
		errors.Is(err, appsync.ErrAmbiguousRunRequest),
		errors.Is(err, storage.ErrInvalidKey):
		return dto.ErrCodeBadRequest
	case errors.Is(err, appsync.ErrSourceNotConfigured):
		return dto.ErrCodeSourceNotConfigured
	case errors.Is(err, storage.ErrObjectNotFound):
		return dto.ErrCodeSourceNotFound
	case errors.Is(err, storage.ErrObjectTooLarge),
		errors.Is(err, ingest.ErrEmptyInput),
		errors.Is(err, ingest.ErrInvalidEncoding),
		errors.Is(err, ingest.ErrMissingHeader),
		errors.Is(err, ingest.ErrMissingKeyColumn),
		errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrMalformedInput):
		return dto.ErrCodeSourceInvalid
	case errors.Is(err, appsync.ErrSourceFetchFailed):
		return dto.ErrCodeSourceUnavailable
	case errors.Is(err, integration.ErrMappingNotFound):
		return dto.ErrCodeNotFound
	case errors.Is(err, integration.ErrBatchAborted):
		return dto.ErrCodeBatchAborted
	case errors.Is(err, integration.ErrMappingStorage):
		return dto.ErrCodeStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeCancelled
	default:
		return dto.ErrCodeInternal
	}
}
