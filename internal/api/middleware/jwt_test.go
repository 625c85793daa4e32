package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTConfig() JWTConfig {
	return JWTConfig{
		SigningKey: []byte("test-signing-key-1234567890123456"),
		Issuer:     "projector",
		ExpiresIn:  time.Hour,
	}
}

func TestJWTConfigValidateToken_Success(t *testing.T) {
	cfg := testJWTConfig()

	token, expiresAt, err := GenerateToken(cfg, "ops-bot", []string{RoleOperator})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := cfg.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-bot", claims.Subject)
	assert.Equal(t, []string{RoleOperator}, claims.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTConfigValidateToken_Rejects(t *testing.T) {
	cfg := testJWTConfig()
	token, _, err := GenerateToken(cfg, "ops-bot", nil)
	require.NoError(t, err)

	t.Run("other issuer", func(t *testing.T) {
		other := cfg
		other.Issuer = "someone-else"
		_, err := other.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("other key", func(t *testing.T) {
		other := cfg
		other.SigningKey = []byte("another-signing-key-12345678901234")
		_, err := other.ValidateToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		expiredCfg := cfg
		expiredCfg.ExpiresIn = -time.Minute
		expired, _, err := GenerateToken(expiredCfg, "ops-bot", nil)
		require.NoError(t, err)
		_, err = cfg.ValidateToken(expired)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("none signing method", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "projector", Subject: "x"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = cfg.ValidateToken(unsigned)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := JWTConfig{Issuer: "projector"}.ValidateToken(token)
		assert.ErrorIs(t, err, ErrJWTSigningKeyMissing)
	})
}

func TestGenerateToken_RequiresKey(t *testing.T) {
	_, _, err := GenerateToken(JWTConfig{}, "x", nil)
	assert.ErrorIs(t, err, ErrJWTSigningKeyMissing)
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	cfg := testJWTConfig()
	router := gin.New()
	router.Use(RequestID())
	router.POST("/poll", JWTAuth(cfg), RequireRole(RoleOperator), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": GetSubject(c.Request.Context())})
	})

	operator, _, err := GenerateToken(cfg, "ops-bot", []string{RoleOperator})
	require.NoError(t, err)
	viewer, _, err := GenerateToken(cfg, "viewer", []string{"viewer"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"missing role", "Bearer " + viewer, http.StatusForbidden},
		{"operator", "Bearer " + operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/poll", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		})
	}
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "rid-1", w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(RequestIDHeader))
}
