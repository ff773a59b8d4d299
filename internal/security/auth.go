package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyAuthMethod is the gin context key recording how the caller was authenticated.
	ContextKeyAuthMethod = "authMethod"

	// AccessTokenParam carries the bearer token on WebSocket upgrades, where
	// browsers cannot set an Authorization header.
	AccessTokenParam = "access_token"
)

const (
	AuthMethodOIDC  = "oidc"
	AuthMethodHMAC  = "hmac"
	AuthMethodPlain = "plain"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	UserID string
	Method string
}

// TokenResolver resolves bearer tokens to caller identities. It is
// initialized once at startup and shared by the HTTP and socket routes.
type TokenResolver struct {
	verifier *oidc.IDTokenVerifier
	hmacKey  []byte
	// requireJWT is set whenever a verifier was configured, even one that
	// failed to initialize, so raw tokens are never trusted in that case.
	requireJWT bool
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	r := &TokenResolver{requireJWT: cfg.JWTSecret != "" || cfg.OIDCIssuer != ""}
	if cfg.JWTSecret != "" {
		r.hmacKey = []byte(cfg.JWTSecret)
		log.Info("HMAC JWT auth enabled")
	}

	oidcIssuer := cfg.OIDCIssuer
	if oidcIssuer == "" {
		if r.hmacKey == nil {
			log.Warn("No token verifier configured; bearer tokens are trusted as user IDs")
		}
		return r
	}

	ctx := context.Background()
	expectedIssuer := oidcIssuer
	discoveryURL := cfg.OIDCDiscoveryURL
	if discoveryURL != "" && discoveryURL != oidcIssuer {
		// NewProvider fetches from its issuer arg, so discovery goes to the
		// internal URL while tokens keep the external issuer.
		ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
		oidcIssuer = discoveryURL
	}
	provider, err := oidc.NewProvider(ctx, oidcIssuer)
	if err != nil {
		log.Error("Failed to initialize OIDC provider", "issuer", oidcIssuer, "err", err)
		return r
	}
	if expectedIssuer != oidcIssuer {
		var providerClaims struct {
			JWKSURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
			keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
			r.verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{SkipClientIDCheck: true})
		}
	}
	if r.verifier == nil {
		r.verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}
	log.Info("OIDC auth enabled", "issuer", expectedIssuer)
	return r
}

var (
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
)

// Resolve resolves a raw bearer token (without the "Bearer " prefix) into a caller Identity.
//
// HS256 tokens are checked against the shared secret, other JWTs against the
// OIDC issuer. When neither verifier is configured the token itself is the
// user ID.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errMissingIdentity
	}
	if !r.requireJWT {
		return &Identity{UserID: token, Method: AuthMethodPlain}, nil
	}
	if strings.Count(token, ".") < 2 {
		return nil, errInvalidJWT
	}

	if r.hmacKey != nil && isHS256(token) {
		return r.resolveHMAC(token)
	}
	if r.verifier != nil {
		return r.resolveOIDC(ctx, token)
	}
	return nil, errInvalidJWT
}

func isHS256(token string) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	return parsed.Method == jwt.SigningMethodHS256
}

func (r *TokenResolver) resolveHMAC(token string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.hmacKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}
	userID := stringClaim(claims, "userId")
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	if userID == "" {
		return nil, errMissingIdentity
	}
	return &Identity{UserID: userID, Method: AuthMethodHMAC}, nil
}

func (r *TokenResolver) resolveOIDC(ctx context.Context, token string) (*Identity, error) {
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}
	// Prefer "preferred_username", then "upn", then "sub".
	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		UPN               string `json:"upn"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Join(errInvalidJWT, err)
	}
	userID := claims.PreferredUsername
	if userID == "" {
		userID = claims.UPN
	}
	if userID == "" {
		userID = claims.Sub
	}
	if userID == "" {
		return nil, errMissingIdentity
	}
	return &Identity{UserID: userID, Method: AuthMethodOIDC}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// AuthMiddleware returns a gin middleware that extracts user identity from the
// Authorization header, falling back to the access_token query parameter.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			log.Info("Auth rejected: missing bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyAuthMethod, id.Method)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			return "", false
		}
		return token, true
	}
	if token := c.Query(AccessTokenParam); token != "" {
		return token, true
	}
	return "", false
}
