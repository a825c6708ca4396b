// Package urlsign issues and checks the short-lived tokens carried by
// temporary file URLs.
package urlsign

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSignature is returned when a token fails verification or was
// issued for a different disk or path.
var ErrInvalidSignature = errors.New("urlsign: invalid signature")

// Claims holds the typed token payload.
type Claims struct {
	Disk string `json:"disk"`
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// Sign creates a token granting read access to path on disk until ttl elapses.
func Sign(secret []byte, disk, path string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("urlsign: empty signing key")
	}
	now := time.Now()
	claims := Claims{
		Disk: disk,
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses token and checks that it was issued for disk and path.
func Verify(secret []byte, token, disk, path string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.Disk != disk || claims.Path != path {
		return nil, fmt.Errorf("%w: token is for %s:%s", ErrInvalidSignature, claims.Disk, claims.Path)
	}
	return claims, nil
}
