package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan тарифный план.
type Plan struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Months int             `json:"months"`
}

// PaymentMethod способ оплаты. Платёж только фиксируется, шлюз не проверяет его.
type PaymentMethod string

// Способы оплаты.
const (
	MethodPayPal PaymentMethod = "paypal"
	MethodCrypto PaymentMethod = "crypto"
)

// AwaitsConfirmation перевод ещё должен подтвердиться в сети, до проверки пользователь ждёт на экране pending.
func (m PaymentMethod) AwaitsConfirmation() bool {
	return m == MethodCrypto
}

// PaymentStatus статус проверки платежа.
type PaymentStatus string

// Статусы платежа.
const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// Terminal сообщает, что статус больше не изменится.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

// Payment заявка на оплату подписки.
type Payment struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	PlanID       string          `json:"plan_id"`
	Method       PaymentMethod   `json:"method"`
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	Status       PaymentStatus   `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
}

// PaymentUpdate сообщение канала реального времени об изменении статуса платежа.
type PaymentUpdate struct {
	PaymentID string        `json:"payment_id"`
	UserID    string        `json:"user_id"`
	Status    PaymentStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}
