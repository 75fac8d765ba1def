// Package auth enforces the bearer-token boundary. A missing or malformed
// authorization header rejects immediately with 401 before any other boundary
// check runs; a valid token has its signature, expiry, issuer and audience
// verified and its claims attached to the request context.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"

	meshderrors "github.com/agentmesh-ai/meshd/internal/errors"
)

type contextKey string

// claimsContextKey carries verified claims through the request context.
const claimsContextKey contextKey = "meshd.claims"

// Claims are the verified token claims attached to authenticated requests.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the authenticated identity (the token subject).
func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier validates bearer tokens against a shared secret, issuer and
// audience.
type Verifier struct {
	logger   hclog.Logger
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier creates a token verifier. The secret must be non-empty.
func NewVerifier(logger hclog.Logger, secret []byte, issuer, audience string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth secret cannot be empty")
	}
	return &Verifier{
		logger:   logger.Named("auth"),
		secret:   secret,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify parses and validates a bearer token string, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", meshderrors.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", meshderrors.ErrUnauthorized)
	}

	return claims, nil
}

// Middleware rejects unauthenticated requests and attaches verified claims
// to the context of authenticated ones.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			v.reject(w, "authorization header not provided")
			return
		}

		tokenString, ok := bearerToken(header)
		if !ok {
			v.reject(w, "authorization header is not a bearer token")
			return
		}

		claims, err := v.Verify(tokenString)
		if err != nil {
			v.logger.Debug("Token verification failed", "error", err)
			v.reject(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reject writes a structured 401 response. Internal detail never reaches the
// body.
func (v *Verifier) reject(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

// FromContext retrieves verified claims from a request context.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// CreateToken mints a signed token for the given subject. Used by tests and
// local tooling.
func CreateToken(secret []byte, subject, issuer, audience string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
