package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// corsRouter builds a router with the given CORS config and a single probe route.
func corsRouter(cfg CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(CORSWithConfig(cfg))
	router.GET("/credits/balance", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router
}

func corsGet(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/credits/balance", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS())
	router.GET("/credits/balance", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	t.Run("default empty whitelist rejects cross-origin", func(t *testing.T) {
		w := corsGet(router, "http://malicious.example")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("same-origin requests pass through", func(t *testing.T) {
		w := corsGet(router, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preflight still gets 204 without CORS headers", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/credits/balance", nil)
		req.Header.Set("Origin", "http://some-dashboard.example")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestCORSWithConfig(t *testing.T) {
	dashboard := "https://dashboard.automna.dev"

	t.Run("allows whitelisted origin with credentials", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins:     []string{dashboard},
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
		})

		w := corsGet(router, dashboard)
		assert.Equal(t, dashboard, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("matches any origin in the whitelist", func(t *testing.T) {
		staging := "https://staging.automna.dev"
		router := corsRouter(CORSConfig{
			AllowOrigins: []string{dashboard, staging},
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Content-Type"},
		})

		assert.Equal(t, dashboard, corsGet(router, dashboard).Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, staging, corsGet(router, staging).Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("omits headers for unlisted origin", func(t *testing.T) {
		router := corsRouter(CORSConfig{AllowOrigins: []string{dashboard}})

		w := corsGet(router, "http://not-allowed.example")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("empty whitelist never sets headers", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins: []string{},
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Content-Type"},
		})

		w := corsGet(router, "http://any-origin.example")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("wildcard allows all origins without credentials", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET"},
			AllowHeaders:     []string{"Content-Type"},
			AllowCredentials: true,
		})

		w := corsGet(router, "http://any-origin.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		// Browsers reject credentials combined with a wildcard origin, so
		// the middleware never emits that pair.
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("sets Max-Age in whole seconds", func(t *testing.T) {
		cases := []struct {
			duration time.Duration
			want     string
		}{
			{1 * time.Hour, "3600"},
			{12 * time.Hour, "43200"},
			{30 * time.Second, "30"},
		}

		for _, tc := range cases {
			router := corsRouter(CORSConfig{
				AllowOrigins: []string{dashboard},
				AllowMethods: []string{"GET"},
				AllowHeaders: []string{"Content-Type"},
				MaxAge:       tc.duration,
			})

			w := corsGet(router, dashboard)
			assert.Equal(t, tc.want, w.Header().Get("Access-Control-Max-Age"))
		}
	})

	t.Run("exposes configured headers", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins:  []string{dashboard},
			AllowMethods:  []string{"GET"},
			AllowHeaders:  []string{"Content-Type"},
			ExposeHeaders: []string{"X-Request-ID", "Retry-After"},
		})

		w := corsGet(router, dashboard)
		assert.Equal(t, "X-Request-ID, Retry-After", w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("preflight from allowed origin gets full headers", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins: []string{dashboard},
			AllowMethods: []string{"GET", "POST", "PUT"},
			AllowHeaders: []string{"Content-Type", "Authorization"},
		})

		req := httptest.NewRequest("OPTIONS", "/credits/balance", nil)
		req.Header.Set("Origin", dashboard)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, dashboard, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, PUT", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("preflight from unlisted origin gets bare 204", func(t *testing.T) {
		router := corsRouter(CORSConfig{
			AllowOrigins: []string{dashboard},
			AllowMethods: []string{"GET", "POST"},
		})

		req := httptest.NewRequest("OPTIONS", "/credits/balance", nil)
		req.Header.Set("Origin", "http://not-allowed.example")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()

	assert.Empty(t, cfg.AllowOrigins, "origins must be configured explicitly")
	assert.Contains(t, cfg.AllowMethods, "GET")
	assert.Contains(t, cfg.AllowMethods, "POST")
	assert.Contains(t, cfg.AllowHeaders, "Authorization")
	assert.Contains(t, cfg.AllowHeaders, "x-api-key")
	assert.Contains(t, cfg.AllowHeaders, "Idempotency-Key")
	assert.Contains(t, cfg.ExposeHeaders, "Retry-After")
	assert.True(t, cfg.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cfg.MaxAge)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/credits/balance", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	t.Run("generates an id when missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/credits/balance", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())
	})

	t.Run("propagates a client-supplied id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/credits/balance", nil)
		req.Header.Set("X-Request-ID", "req-from-client")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-from-client", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "req-from-client", w.Body.String())
	})
}

func TestGenerateRequestID(t *testing.T) {
	id1 := generateRequestID()
	id2 := generateRequestID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, 32) // 16 random bytes, hex encoded
}

func secureRouter(cfg SecurityConfig) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(SecureWithConfig(cfg))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	return w
}

func TestSecure(t *testing.T) {
	router := gin.New()
	router.Use(Secure())
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))

	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "frame-ancestors 'none'")

	// HSTS stays off until the deployment terminates TLS itself
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	permPolicy := w.Header().Get("Permissions-Policy")
	assert.Contains(t, permPolicy, "camera=()")
	assert.Contains(t, permPolicy, "microphone=()")
}

func TestSecureWithConfig(t *testing.T) {
	t.Run("custom CSP directive", func(t *testing.T) {
		w := secureRouter(SecurityConfig{
			CSPEnabled:   true,
			CSPDirective: "default-src 'none'; script-src 'self'",
		})

		assert.Equal(t, "default-src 'none'; script-src 'self'", w.Header().Get("Content-Security-Policy"))
		assert.Empty(t, w.Header().Get("Permissions-Policy"))
	})

	t.Run("HSTS with all options", func(t *testing.T) {
		w := secureRouter(SecurityConfig{
			HSTSEnabled:           true,
			HSTSMaxAge:            63072000,
			HSTSIncludeSubdomains: true,
			HSTSPreload:           true,
		})

		assert.Equal(t, "max-age=63072000; includeSubDomains; preload",
			w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("HSTS max-age only", func(t *testing.T) {
		w := secureRouter(SecurityConfig{
			HSTSEnabled: true,
			HSTSMaxAge:  31536000,
		})

		assert.Equal(t, "max-age=31536000", w.Header().Get("Strict-Transport-Security"))
	})

	t.Run("custom Permissions-Policy directive", func(t *testing.T) {
		w := secureRouter(SecurityConfig{
			PermissionsPolicyEnabled:   true,
			PermissionsPolicyDirective: "geolocation=(self), microphone=()",
		})

		assert.Equal(t, "geolocation=(self), microphone=()", w.Header().Get("Permissions-Policy"))
	})

	t.Run("optional headers disabled keeps the basics", func(t *testing.T) {
		w := secureRouter(SecurityConfig{})

		assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.Empty(t, w.Header().Get("Content-Security-Policy"))
		assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
		assert.Empty(t, w.Header().Get("Permissions-Policy"))
	})
}

func TestDefaultSecurityConfig(t *testing.T) {
	cfg := DefaultSecurityConfig()

	assert.False(t, cfg.HSTSEnabled)
	assert.Equal(t, 31536000, cfg.HSTSMaxAge)
	assert.True(t, cfg.HSTSIncludeSubdomains)
	assert.False(t, cfg.HSTSPreload)

	assert.True(t, cfg.CSPEnabled)
	assert.Contains(t, cfg.CSPDirective, "default-src 'self'")
	assert.Contains(t, cfg.CSPDirective, "frame-ancestors 'none'")

	assert.True(t, cfg.PermissionsPolicyEnabled)
	assert.Contains(t, cfg.PermissionsPolicyDirective, "camera=()")
}
