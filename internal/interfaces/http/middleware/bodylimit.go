package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sebastiansabo/autoworld-crawl/internal/interfaces/http/dto"
)

// BodyLimit returns a middleware that limits request body size. A declared
// Content-Length over the limit is refused up front; chunked bodies are cut
// by http.MaxBytesReader and surface as *http.MaxBytesError when bound.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRequestTooLarge,
				"Request body exceeds maximum allowed size",
				requestID(c),
			))
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
