package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/LaxRaj/the-garage/internal/models"
	"github.com/LaxRaj/the-garage/internal/utils"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidClaims = errors.New("invalid identity claims")

// Claims defines the structure of the JWT claims.
type Claims struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the caller identity used by services.
func (c *Claims) Identity() (models.Identity, error) {
	id, err := utils.ParseSixID(c.UserID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: user_id: %v", ErrInvalidClaims, err)
	}
	role := c.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return models.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, c.Role)
	}
	return models.Identity{UserID: id, DisplayName: c.DisplayName, Role: role}, nil
}

// GenerateJWT creates a new JWT for the given identity.
func GenerateJWT(identity models.Identity, secretKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      identity.UserID.String(),
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   identity.UserID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT verifies a JWT string and returns the claims if valid.
func ValidateJWT(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid JWT")
	}

	return claims, nil
}

// ParseIdentity validates tokenString and returns the identity it carries.
func ParseIdentity(tokenString, secretKey string) (models.Identity, error) {
	claims, err := ValidateJWT(tokenString, secretKey)
	if err != nil {
		return models.Identity{}, err
	}
	return claims.Identity()
}
