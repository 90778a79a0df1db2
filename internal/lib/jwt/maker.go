// Package jwt реализует генерацию и парсинг JWT токенов сессии.
//
// Maker определяет интерфейс для создания и проверки токенов, MakerImpl:
// реализация на HS256 с секретным ключом и сроком жизни.
package jwt

import (
	"time"
)

// Maker описывает интерфейс для генерации и парсинга JWT токенов.
type Maker interface {
	// GenerateToken выпускает токен для пользователя и возвращает его вместе с id сессии.
	GenerateToken(subject Subject) (token string, sessionID string, err error)
	// ParseToken проверяет подпись и срок и возвращает claims.
	ParseToken(tokenStr string) (*CustomClaims, error)
	// TTL возвращает время жизни выпускаемых токенов.
	TTL() time.Duration
}

// Subject данные пользователя, которые попадают в токен.
type Subject struct {
	UserID   string
	Email    string
	Role     string
	Provider string
}

// MakerImpl реализует интерфейс Maker с использованием секретного ключа
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewJWTMaker создаёт новый экземпляр MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}

// TTL возвращает время жизни токена.
func (j *MakerImpl) TTL() time.Duration {
	return j.tokenTTL
}
