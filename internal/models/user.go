// Package models содержит доменные типы signaldesk: пользователь, сессия,
// тарифный план, платёж и уведомления.
// Структуры используются в бизнес‑логике, координаторе экранов и при работе с хранилищем.
package models

import "time"

// Role роль пользователя.
type Role string

// Роли пользователей.
const (
	RoleAdmin  Role = "admin"
	RoleTrader Role = "trader"
)

// AccountStatus состояние учётной записи.
type AccountStatus string

// Состояния учётной записи.
const (
	StatusActive  AccountStatus = "active"
	StatusBlocked AccountStatus = "blocked"
	StatusPending AccountStatus = "pending"
)

// SubscriptionStatus состояние подписки пользователя.
type SubscriptionStatus string

// Состояния подписки.
const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionTrial    SubscriptionStatus = "trial"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionRejected SubscriptionStatus = "rejected"
)

// Provider способ входа.
type Provider string

// Способы входа.
const (
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// IsSocial сообщает, что вход выполнен через внешнего провайдера.
func (p Provider) IsSocial() bool {
	return p == ProviderGoogle || p == ProviderGitHub
}

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID                 string             `json:"id"`                  // Уникальный идентификатор пользователя
	Email              string             `json:"email"`               // Электронная почта
	Username           string             `json:"username"`            // Имя пользователя (уникальное)
	PasswordHash       string             `json:"-"`                   // Хэш пароля, у социальных входов пустой
	Role               Role               `json:"role"`                // admin или trader
	Status             AccountStatus      `json:"status"`              // active, blocked, pending
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"` // Состояние подписки
	// RedirectHint шаг, на который нужно вернуть пользователя. Свободная строка, её трактует gate.
	RedirectHint       string     `json:"redirect_hint"`
	EmailVerified      bool       `json:"email_verified"`
	EmailConfirmedAt   *time.Time `json:"email_confirmed_at,omitempty"`
	Provider           Provider   `json:"provider"`
	SubscriptionExpiry *time.Time `json:"subscription_expiry,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsAdmin сообщает, что пользователь администратор.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
