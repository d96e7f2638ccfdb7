package auth

import (
	"github.com/angelmondragon/mala-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	Role   enums.Role
	Email  string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by storefront clients.
type AccessTokenClaims struct {
	UserID string     `json:"user_id"`
	Role   enums.Role `json:"role"`
	Email  string     `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// EffectiveUserID prefers the explicit user_id claim and falls back to sub.
func (c *AccessTokenClaims) EffectiveUserID() string {
	if c == nil {
		return ""
	}
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// EffectiveRole treats a missing role claim as a customer.
func (c *AccessTokenClaims) EffectiveRole() enums.Role {
	if c == nil || c.Role == "" {
		return enums.RoleCustomer
	}
	return c.Role
}
