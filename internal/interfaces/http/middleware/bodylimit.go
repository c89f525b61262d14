package middleware

import (
	"net/http"

	"github.com/automna/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit rejects requests whose declared Content-Length exceeds maxBytes
// and caps streaming bodies at the same limit. Settle payloads are small, so
// anything oversized is either a client bug or abuse.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponse(dto.ErrCodePayloadTooLarge, "Request body exceeds maximum allowed size"))
			return
		}

		// Chunked requests carry no Content-Length, so cap the reader too.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
