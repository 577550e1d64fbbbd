package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails validation
var ErrInvalidToken = errors.New("invalid token")

// TokenService validates the bearer tokens of the identity provider
type TokenService struct {
	jwtSecret []byte
	ttl       time.Duration
}

// NewTokenService creates a token service for an HMAC secret
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("JWT secret must not be empty")
	}
	return &TokenService{
		jwtSecret: []byte(secret),
		ttl:       24 * time.Hour,
	}, nil
}

// NewToken signs a token whose subject is userID
func (s *TokenService) NewToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses tokenString and checks signature and expiry
func (s *TokenService) ValidateToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return token, nil
}

// GetUserIDFromToken returns the subject of a validated token
func (s *TokenService) GetUserIDFromToken(token *jwt.Token) (string, error) {
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("%w: read subject: %w", ErrInvalidToken, err)
	}
	if sub == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return sub, nil
}

// UserIDFromBearer validates a raw token and returns its subject
func (s *TokenService) UserIDFromBearer(tokenString string) (string, error) {
	token, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return s.GetUserIDFromToken(token)
}
