package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the verified identity fields extracted from an access token.
// Supabase puts the user id in the subject claim.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Validate(tokenString string) (*Claims, error)
}

// HMACVerifier verifies Supabase-issued HS256 access tokens with the
// project JWT secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given project secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Validate parses and verifies the token signature and expiry.
func (v *HMACVerifier) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GenerateToken signs a token for a user id, useful for tests and local
// development.
func (v *HMACVerifier) GenerateToken(userID, email string) (string, error) {
	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			Issuer:  "scaleagents-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
