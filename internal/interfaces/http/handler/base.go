package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/automna/backend/internal/domain/shared"
	"github.com/automna/backend/internal/interfaces/http/dto"
	"github.com/automna/backend/internal/interfaces/http/middleware"
)

// BaseHandler carries the response helpers shared by every handler, so
// success and error envelopes stay uniform across the API surface.
type BaseHandler struct{}

// getRequestID prefers the ID minted by the RequestID middleware and
// falls back to the client's own header.
func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// getTenantID reads the authenticated tenant from the JWT claims. Dashboard
// routes never trust a tenant ID from the request body or path.
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := middleware.GetJWTTenantID(c)
	if tenantIDStr == "" {
		return uuid.Nil, errors.New("tenant ID not found in context")
	}
	return uuid.Parse(tenantIDStr)
}

// Success sends a 200 with the standard success envelope.
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 with the standard success envelope.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error envelope carrying the request ID for correlation.
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError maps a service error onto the wire. Domain errors carry
// their own code, which decides the HTTP status; anything else is hidden
// behind a generic 500 so driver details never leak to clients.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
		return
	}

	h.InternalError(c, "An unexpected error occurred")
}
