package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type testIssuer struct {
	URL string
	key *rsa.PrivateKey
}

func startTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	iss := &testIssuer{key: key}
	router := gin.New()
	router.GET("/.well-known/openid-configuration", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"issuer":                                iss.URL,
			"jwks_uri":                              iss.URL + "/keys",
			"authorization_endpoint":                iss.URL + "/auth",
			"token_endpoint":                        iss.URL + "/token",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	router.GET("/keys", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"keys": []gin.H{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": "test-key",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	iss.URL = srv.URL
	return iss
}

func (i *testIssuer) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(i.key)
	require.NoError(t, err)
	return signed
}

func TestResolve_OIDC(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := startTestIssuer(t)

	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = iss.URL
	r := NewTokenResolver(&cfg)
	require.NotNil(t, r.verifier)

	now := time.Now()
	base := func(extra jwt.MapClaims) jwt.MapClaims {
		claims := jwt.MapClaims{
			"iss": iss.URL,
			"aud": "pulsespace-web",
			"iat": now.Unix(),
			"exp": now.Add(time.Hour).Unix(),
		}
		for k, v := range extra {
			claims[k] = v
		}
		return claims
	}

	id, err := r.Resolve(context.Background(), iss.sign(t, base(jwt.MapClaims{"sub": "s-1", "preferred_username": "alice"})))
	require.NoError(t, err)
	require.Equal(t, "alice", id.UserID)
	require.Equal(t, AuthMethodOIDC, id.Method)

	id, err = r.Resolve(context.Background(), iss.sign(t, base(jwt.MapClaims{"sub": "s-2"})))
	require.NoError(t, err)
	require.Equal(t, "s-2", id.UserID)

	t.Run("expired", func(t *testing.T) {
		claims := base(jwt.MapClaims{"sub": "s-1"})
		claims["exp"] = now.Add(-time.Minute).Unix()
		_, err := r.Resolve(context.Background(), iss.sign(t, claims))
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := base(jwt.MapClaims{"sub": "s-1"})
		claims["iss"] = "https://elsewhere.example"
		_, err := r.Resolve(context.Background(), iss.sign(t, claims))
		require.ErrorIs(t, err, errInvalidJWT)
	})

	t.Run("plain token rejected", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), "alice")
		require.ErrorIs(t, err, errInvalidJWT)
	})
}

func TestResolve_OIDCUnreachableIssuerRejectsEverything(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = "http://127.0.0.1:1"
	r := NewTokenResolver(&cfg)
	require.Nil(t, r.verifier)

	_, err := r.Resolve(context.Background(), "alice")
	require.ErrorIs(t, err, errInvalidJWT)

	iss := startTestIssuer(t)
	_, err = r.Resolve(context.Background(), iss.sign(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()}))
	require.ErrorIs(t, err, errInvalidJWT)
}
