package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Subject is the identity carried by an admin console token.
type Subject struct {
	UserID         string
	Name           string
	Role           string
	OrganizationID string
}

type Claims struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name,omitempty"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
	gojwt.RegisteredClaims
}

// GenerateToken signs a console token. Issuance belongs to the identity
// provider; the relay uses this for tooling and tests.
func GenerateToken(subject Subject, expiration time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         subject.UserID,
		Name:           subject.Name,
		Role:           subject.Role,
		OrganizationID: subject.OrganizationID,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject.UserID,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := gojwt.ParseWithClaims(tokenString, claims, func(token *gojwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
