package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims contains claims about the identity an access token was issued to.
// https://learn.microsoft.com/entra/identity-platform/access-token-claims-reference
type TokenClaims struct {
	jwt.RegisteredClaims

	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantId          string `json:"tid,omitempty"`
	UPN               string `json:"upn,omitempty"`
	AppId             string `json:"appid,omitempty"`
}

// GetClaimsFromAccessToken extracts claims from an access token.
// The signature is not verified; the token was issued to us and is only inspected, never trusted.
func GetClaimsFromAccessToken(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("malformed access token: %w", err)
	}

	return claims, nil
}
