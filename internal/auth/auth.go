// Package auth issues and verifies the HS256 bearer tokens that protect the
// daemon HTTP API and the privileged websocket.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "callscribe"

// Token roles.
const (
	RoleClient = "client"
	RoleSigner = "signer"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// Claims are the callscribe token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Issue signs a token for subject valid for ttl. A zero ttl never expires.
func Issue(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("issue token: secret is empty")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses raw and checks its signature, issuer and expiry.
func Verify(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if tok == nil || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// TokenFromRequest returns the bearer token from the Authorization header or,
// for websocket clients that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", ErrMissingToken
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" {
			return "", ErrMissingToken
		}
		return raw, nil
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("token")); raw != "" {
		return raw, nil
	}
	return "", ErrMissingToken
}

// Authorize verifies the request's token against secret. An empty secret
// disables authentication.
func Authorize(secret string, r *http.Request) (*Claims, error) {
	if secret == "" {
		return &Claims{}, nil
	}
	raw, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	return Verify(secret, raw)
}

// RequireRole returns a request check that accepts only tokens carrying
// role. An empty secret accepts every request.
func RequireRole(secret, role string) func(*http.Request) error {
	return func(r *http.Request) error {
		claims, err := Authorize(secret, r)
		if err != nil {
			return err
		}
		if secret != "" && claims.Role != role {
			return fmt.Errorf("token role %q is not %q", claims.Role, role)
		}
		return nil
	}
}

// Middleware rejects requests without a valid token with 401.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := Authorize(secret, r); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
