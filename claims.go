package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClass separates short lived access tokens from refresh tokens
type TokenClass string

const (
	TokenClassAccess  TokenClass = "access"
	TokenClassRefresh TokenClass = "refresh"
)

// Valid reports whether the class is one of the known classes
func (c TokenClass) Valid() bool {
	return c == TokenClassAccess || c == TokenClassRefresh
}

// TokenClaims is the payload carried by every token we mint
type TokenClaims struct {
	jwt.RegisteredClaims
	Class TokenClass `json:"typ"`
	// Role is informational, authorization always uses the stored account
	Role string `json:"role,omitempty"`
	// Session is the account session version the token was minted under
	Session int `json:"sv,omitempty"`
}

// Username returns the subject claim
func (c *TokenClaims) Username() string {
	return c.RegisteredClaims.Subject
}

// TokenID returns the jti claim
func (c *TokenClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the exp claim or the zero time
func (c *TokenClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the iat claim or the zero time
func (c *TokenClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ensureTokenID assigns a random jti when none is present
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil {
		return
	}
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
