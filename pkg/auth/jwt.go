package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid  = errors.New("invalid token")
	ErrNoSecret = errors.New("jwt secret not configured")
)

// DefaultScope is the only scope the API accepts.
const DefaultScope = "endpoints"

// Claims identify the client allowed to change endpoints.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Generate signs an HS256 token for subject valid for ttl.
func Generate(subject string, ttl time.Duration, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		Scope: DefaultScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse verifies tokenStr against secret and returns its claims.
func Parse(tokenStr string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok && claims.Scope == DefaultScope {
		return claims, nil
	}
	return nil, ErrInvalid
}
