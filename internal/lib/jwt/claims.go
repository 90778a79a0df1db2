package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CustomClaims описывает пользовательские данные, хранящиеся в JWT.
type CustomClaims struct {
	UserID               string `json:"user_id"`  // Идентификатор пользователя
	Email                string `json:"email"`    // Почта
	Role                 string `json:"role"`     // Роль пользователя
	Provider             string `json:"provider"` // Способ входа: email, google, github
	jwt.RegisteredClaims        // ID содержит идентификатор сессии
}

// GenerateToken создает JWT токен для subject, подписывая его секретным ключом.
//
// Каждый токен получает новый идентификатор сессии (jti), по которому сессию можно отозвать.
func (j *MakerImpl) GenerateToken(subject Subject) (string, string, error) {
	const op = "jwt.GenerateToken"
	sessionID := uuid.NewString()
	now := time.Now()
	claims := CustomClaims{
		UserID:   subject.UserID,
		Email:    subject.Email,
		Role:     subject.Role,
		Provider: subject.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   subject.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, sessionID, nil
}

// ParseToken парсит JWT токен, проверяет его подпись и валидность,
// возвращает CustomClaims с данными, если токен корректен.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}
