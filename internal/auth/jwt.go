package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the gateway-specific JWT claims. A JWT principal maps onto the
// same entity graph as a virtual key: user, team, org and optional end user.
type Claims struct {
	UserID    string   `json:"user_id,omitempty"`
	TeamID    string   `json:"team_id,omitempty"`
	OrgID     string   `json:"org_id,omitempty"`
	EndUserID string   `json:"end_user_id,omitempty"`
	Role      string   `json:"role,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates HMAC-signed gateway JWTs
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the shared signing secret
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies the token, returning its claims.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

// Issue signs a token for the given claims with the given lifetime. Used by
// tests and the token mint endpoint.
func (v *JWTValidator) Issue(claims Claims, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
