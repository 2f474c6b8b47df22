package platform

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// serverToken signs a server-side JWT with the API secret.
func serverToken(secret string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"server": true,
		"iat":    now.Add(-5 * time.Second).Unix(),
		"exp":    now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign server token: %w", err)
	}
	return signed, nil
}

// UserToken signs a client token that lets userID join calls.
func UserToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Add(-5 * time.Second).Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}
