package auth

import "errors"

// Ошибки входа и регистрации.
var (
	ErrEmailNotFound    = errors.New("email not found")
	ErrUsernameNotFound = errors.New("username not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrEmailNotVerified = errors.New("email not verified")
	ErrUserExists       = errors.New("user already exists")
)

// Ошибки сессий и одноразовых кодов.
var (
	ErrCodeConsumed    = errors.New("code already consumed or unknown")
	ErrInvalidToken    = errors.New("invalid session token")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrUnknownProvider = errors.New("unknown social provider")
	ErrInvalidState    = errors.New("invalid oauth state")
)
