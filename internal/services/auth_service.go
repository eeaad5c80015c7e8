package services

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	messenger_errors "orgmessenger/pkg/errors"
)

// AuthService verifies access tokens issued by the external identity
// collaborator. Token issuance, refresh and session management live there;
// this side only needs the verified caller identity.
type AuthService struct {
	jwtSecret []byte
}

func NewAuthService(jwtSecret string) *AuthService {
	return &AuthService{jwtSecret: []byte(jwtSecret)}
}

type AccessClaims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

func (s *AuthService) ParseAccessToken(tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, messenger_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, messenger_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return uuid.Nil, messenger_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, messenger_errors.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, messenger_errors.ErrUnauthorized
	}
	return userID, nil
}
