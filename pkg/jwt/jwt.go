// Package jwt issues and validates the bearer tokens that gate every
// sync endpoint. Access tokens and refresh tokens share the same claims
// shape; only the expiration and, in principle, the signing audience
// differ.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func newClaims(userID string, expiration time.Duration) Claims {
	now := time.Now()
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
}

// GenerateToken issues an access token bound to userID, expiring after
// expiration and signed with secret.
func GenerateToken(userID string, expiration time.Duration, secret string) (string, error) {
	claims := newClaims(userID, expiration)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// GenerateRefreshToken issues a longer-lived token used solely to mint
// new access tokens via RefreshToken.
func GenerateRefreshToken(userID string, expiration time.Duration, secret string) (string, error) {
	return GenerateToken(userID, expiration, secret)
}

// ValidateToken parses and verifies token, returning its claims. An
// expired, malformed, or mis-signed token yields an error.
func ValidateToken(tokenString string, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
