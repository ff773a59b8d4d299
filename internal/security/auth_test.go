package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestResolve_PlainTokenWithoutVerifiers(t *testing.T) {
	cfg := config.DefaultConfig()
	r := NewTokenResolver(&cfg)

	id, err := r.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", id.UserID)
	require.Equal(t, AuthMethodPlain, id.Method)

	_, err = r.Resolve(context.Background(), "  ")
	require.Error(t, err)
}

func TestResolve_HMAC(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.JWTSecret = testSecret
	r := NewTokenResolver(&cfg)
	exp := time.Now().Add(time.Hour).Unix()

	id, err := r.Resolve(context.Background(), signHS256(t, jwt.MapClaims{"userId": "u-1", "exp": exp}))
	require.NoError(t, err)
	require.Equal(t, "u-1", id.UserID)
	require.Equal(t, AuthMethodHMAC, id.Method)

	id, err = r.Resolve(context.Background(), signHS256(t, jwt.MapClaims{"sub": "u-2", "exp": exp}))
	require.NoError(t, err)
	require.Equal(t, "u-2", id.UserID)

	t.Run("expired", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), signHS256(t, jwt.MapClaims{"userId": "u-1", "exp": time.Now().Add(-time.Minute).Unix()}))
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "u-1", "exp": exp}).SignedString([]byte("other"))
		require.NoError(t, err)
		_, err = r.Resolve(context.Background(), forged)
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("plain token rejected once a verifier is configured", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "alice")
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("missing identity", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), signHS256(t, jwt.MapClaims{"exp": exp}))
		require.ErrorIs(t, err, errMissingIdentity)
	})
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	router := gin.New()
	router.Use(AuthMiddleware(NewTokenResolver(&cfg)))
	router.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	require.Equal(t, http.StatusUnauthorized, serve(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Basic abc")
	require.Equal(t, http.StatusUnauthorized, serve(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rec := serve(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami?access_token=bob", nil)
	rec = serve(req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "bob", rec.Body.String())
}
