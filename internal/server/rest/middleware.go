// Package rest serves the frostwatch findings API.
//
// Every /api route may require an RS256 bearer token:
//
//	Authorization: Bearer <compact-JWT>
//
// Tokens are verified with github.com/golang-jwt/jwt/v5. Expiry is always
// enforced; issuer and audience are checked when configured. A failure is
// answered with HTTP 401 and a JSON error body.
package rest

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsKey contextKey = 0

// Claims are the verified token claims stored in the request context.
type Claims = jwt.RegisteredClaims

// JWTConfig configures JWTMiddleware.
type JWTConfig struct {
	// PublicKey verifies RS256 signatures. Required.
	PublicKey *rsa.PublicKey
	// Issuer, if set, must equal the "iss" claim.
	Issuer string
	// Audience, if set, must appear in the "aud" claim.
	Audience string
	// Logger records authentication failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// ClaimsFromContext returns the claims injected by JWTMiddleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// LoadRSAPublicKey reads a PEM-encoded RSA public key (PKIX or PKCS#1).
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rest: read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("rest: parse public key %q: %w", path, err)
	}
	return key, nil
}

// JWTMiddleware returns chi-compatible middleware enforcing RS256 bearer
// tokens.
func JWTMiddleware(cfg JWTConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.PublicKey, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err == nil {
				var claims Claims
				if _, err = parser.ParseWithClaims(raw, &claims, keyFunc); err == nil {
					ctx := context.WithValue(r.Context(), claimsKey, &claims)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			logger.Warn("rest: authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Any("error", err))
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", errors.New("missing or malformed Authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
