// Package auth issues and validates session tokens: a local Ed25519 issuer
// for first-party sessions, an OIDC/JWKS validator for federated identity
// providers, and a shared claims shape between the two.
package auth

import "github.com/golang-jwt/jwt/v5"

// CustomClaims is the JWT payload shape shared by both the local issuer and
// the OIDC validator.
type CustomClaims struct {
	Scope   string `json:"scope,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	GuildID string `json:"guild_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator is the common interface used by HTTP and gateway middleware
// so the local and OIDC validators (and the dev-only mock) are
// interchangeable.
type TokenValidator interface {
	ValidateToken(tokenString string) (*CustomClaims, error)
}
