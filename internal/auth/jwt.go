// Package auth validates bearer credentials and resolves them to a
// tenant-qualified caller identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GyoHeon/chat-back/internal/identity"
)

// ErrInvalidCredential covers missing, malformed, expired and mismatched credentials.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the caller resolved from a credential.
type Identity struct {
	UserID string // tenant-qualified
	Tenant string
}

// RawID returns the caller's unqualified id.
func (i Identity) RawID() string {
	raw, _ := identity.Unqualify(i.UserID)
	return raw
}

// Verifier turns a bearer credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims carries the qualified user id in the "id" claim.
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier for the given secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

var _ Verifier = (*JWTVerifier)(nil)

// Verify parses and validates token.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidCredential
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidCredential
	}
	tenant, err := identity.TenantOf(claims.ID)
	if err != nil || !identity.ValidTenant(tenant) {
		return Identity{}, fmt.Errorf("%w: id claim is not qualified", ErrInvalidCredential)
	}
	if raw, _ := identity.Unqualify(claims.ID); raw == "" {
		return Identity{}, fmt.Errorf("%w: id claim is not qualified", ErrInvalidCredential)
	}
	return Identity{UserID: claims.ID, Tenant: tenant}, nil
}

// Issue signs an HS256 token for qualifiedID valid for ttl.
func Issue(secret, qualifiedID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID: qualifiedID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   qualifiedID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: authorization header empty", ErrInvalidCredential)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrInvalidCredential)
	}
	return strings.TrimSpace(token), nil
}
