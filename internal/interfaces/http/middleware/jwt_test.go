package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automna/backend/internal/infrastructure/auth"
	"github.com/automna/backend/internal/infrastructure/config"
)

func newJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-that-is-long-enough",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "automna-backend",
	})
}

func newJWTRouter(cfg JWTMiddlewareConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuthMiddlewareWithConfig(cfg))
	router.GET("/api/v1/credits", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant_id": GetJWTTenantID(c)})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	service := newJWTService(t)
	tenantID := uuid.New()

	token, _, err := service.GenerateAccessToken(tenantID)
	require.NoError(t, err)

	router := newJWTRouter(DefaultJWTConfig(service))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tenantID.String())
}

func TestJWTAuthMiddleware_SkipPaths(t *testing.T) {
	router := newJWTRouter(DefaultJWTConfig(newJWTService(t)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuthMiddleware_Rejections(t *testing.T) {
	service := newJWTService(t)
	router := newJWTRouter(DefaultJWTConfig(service))

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_TOKEN_INVALID")
	})

	t.Run("malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
		req.Header.Set("Authorization", "Token abc")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		short := auth.NewJWTService(config.JWTConfig{
			Secret:                "test-secret-key-that-is-long-enough",
			AccessTokenExpiration: time.Nanosecond,
			Issuer:                "automna-backend",
		})
		token, _, err := short.GenerateAccessToken(uuid.New())
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_TOKEN_EXPIRED")
	})
}

func TestJWTAuthMiddleware_OnErrorCallback(t *testing.T) {
	service := newJWTService(t)
	called := false

	cfg := DefaultJWTConfig(service)
	cfg.OnError = func(c *gin.Context, err error) {
		called = true
		c.AbortWithStatusJSON(http.StatusTeapot, gin.H{"custom": true})
	}

	router := newJWTRouter(cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits", nil)
	router.ServeHTTP(w, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}
