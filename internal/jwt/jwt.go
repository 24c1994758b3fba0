package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/basement-chat/basement/shared/domain"
	"github.com/basement-chat/basement/shared/errors"
	"github.com/basement-chat/basement/shared/logger"
)

type JwtService interface {
	NewToken(wallet domain.Credential) (string, error)
	DecodeToken(jwtStr string) (domain.Credential, error)
}

type Jwt struct {
	secretKey string
	ttl       time.Duration
}

func New(secretKey string, ttl time.Duration) JwtService {
	return &Jwt{secretKey, ttl}
}

func (j *Jwt) NewToken(wallet domain.Credential) (string, error) {
	claims := jwt.MapClaims{
		"wallet": string(wallet),
		"exp":    time.Now().Add(j.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		logger.Log.Error("token signing failed", "error", err)
		return "", fmt.Errorf("can't create token")
	}

	return tokenString, nil
}

// DecodeToken verifies the signature and expiry and returns the wallet
// credential the token was issued for.
func (j *Jwt) DecodeToken(jwtStr string) (domain.Credential, error) {
	token, err := jwt.Parse(jwtStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized(fmt.Sprintf("Unexpected signing method: %v", token.Header["alg"]))
		}
		return []byte(j.secretKey), nil
	})
	if err != nil {
		return "", errors.Unauthorized("Invalid token signature")
	}
	if !token.Valid {
		return "", errors.Unauthorized("Invalid access token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.Unauthorized("Invalid token claims")
	}
	wallet, ok := claims["wallet"].(string)
	if !ok || wallet == "" {
		return "", errors.Unauthorized("Invalid token claims")
	}

	return domain.Credential(wallet), nil
}
