package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automna/backend/internal/infrastructure/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:                "test-secret-key-that-is-long-enough",
		AccessTokenExpiration: 15 * time.Minute,
		Issuer:                "automna-backend",
	}
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	service := NewJWTService(testJWTConfig())
	tenantID := uuid.New()

	token, expiresAt, err := service.GenerateAccessToken(tenantID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, tenantID.String(), claims.Subject)
	assert.Equal(t, "automna-backend", claims.Issuer)
}

func TestJWTService_ValidateAccessToken_Invalid(t *testing.T) {
	service := NewJWTService(testJWTConfig())

	t.Run("garbage token", func(t *testing.T) {
		_, err := service.ValidateAccessToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{
			Secret:                "a-completely-different-secret-value",
			AccessTokenExpiration: 15 * time.Minute,
			Issuer:                "automna-backend",
		})
		token, _, err := other.GenerateAccessToken(uuid.New())
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{
			Secret:                testJWTConfig().Secret,
			AccessTokenExpiration: 15 * time.Minute,
			Issuer:                "someone-else",
		})
		token, _, err := other.GenerateAccessToken(uuid.New())
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		short := NewJWTService(config.JWTConfig{
			Secret:                testJWTConfig().Secret,
			AccessTokenExpiration: time.Nanosecond,
			Issuer:                "automna-backend",
		})
		token, _, err := short.GenerateAccessToken(uuid.New())
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		_, err = short.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("missing tenant claim", func(t *testing.T) {
		now := time.Now()
		claims := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "automna-backend",
				Audience:  jwt.ClaimStrings{"automna-backend"},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTConfig().Secret))
		require.NoError(t, err)

		_, err = service.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrMissingTenantID)
	})
}

func TestNewJWTService_DefaultExpiration(t *testing.T) {
	service := NewJWTService(config.JWTConfig{Secret: "s", Issuer: "i"})

	_, expiresAt, err := service.GenerateAccessToken(uuid.New())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)
}
