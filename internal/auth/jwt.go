// Package auth issues and verifies approver tokens and stores them for the
// CLI.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for any token that fails verification.
var ErrInvalid = errors.New("invalid_token")

// Claims carry the approver identity used for proposal authorization.
type Claims struct {
	Approver string `json:"approver"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 approver tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. The secret must not be empty.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Mint returns a signed token naming approver.
func (i *Issuer) Mint(approver string) (string, error) {
	if approver == "" {
		return "", errors.New("approver is required")
	}
	now := i.now()
	claims := Claims{
		Approver: approver,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approver,
			Issuer:    "guardian",
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the claims.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Approver == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
