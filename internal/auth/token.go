// Package auth provides the authentication collaborator boundary: the
// orchestration core consumes an Authenticator that turns a bearer
// credential into a user id plus scopes. A simple signed-token (HMAC)
// validator ships as the default implementation; deployments with a real
// identity provider substitute their own.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates a bearer credential and yields the caller's
// identity and scopes.
type Authenticator interface {
	Authenticate(credential string) (*models.AuthContext, error)
}

// Claims is the token payload the validator expects.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenValidator checks HMAC-signed tokens.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator for the given signing secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Authenticate verifies the token signature and expiry and extracts the
// user id (subject) and scopes.
func (v *TokenValidator) Authenticate(credential string) (*models.AuthContext, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return nil, fmt.Errorf("missing credential")
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("token carries no subject")
	}
	return &models.AuthContext{
		UserID: claims.Subject,
		Scopes: claims.Scopes,
	}, nil
}

// IssueToken signs a token for the given identity. Used by local tooling
// and tests; production deployments issue tokens elsewhere.
func (v *TokenValidator) IssueToken(userID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
