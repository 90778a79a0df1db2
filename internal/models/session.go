package models

import "time"

// Session аутентифицированная сессия. Создаётся и отзывается только сервисом авторизации.
type Session struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Provider  Provider  `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
}
