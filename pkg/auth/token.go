package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented token can fail to resolve:
// malformed, bad signature, expired, or missing the principal claim.
var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenTTL matches the reference behavior of week-long sessions.
const DefaultTokenTTL = 7 * 24 * time.Hour

// MintToken issues an HS256 token carrying the principal id and username.
// The ttl is applied as given; callers choose the default.
func MintToken(secret []byte, principalID int64, username string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("token secret not configured")
	}
	claims := jwt.MapClaims{
		"id":       principalID,
		"username": username,
		"exp":      time.Now().Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

// VerifyToken resolves a token to the principal id it was minted for.
func VerifyToken(secret []byte, token string) (int64, error) {
	if len(secret) == 0 {
		return 0, fmt.Errorf("token secret not configured")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return 0, ErrInvalidToken
	}
	return int64(id), nil
}
