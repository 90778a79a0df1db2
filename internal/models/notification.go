package models

import "time"

// NotificationKind тип письма, которое отправит sender.
type NotificationKind string

// Типы писем.
const (
	NotifyConfirmEmail     NotificationKind = "confirm_email"
	NotifyPaymentApproved  NotificationKind = "payment_approved"
	NotifyPaymentRejected  NotificationKind = "payment_rejected"
	NotifySubscriptionGone NotificationKind = "subscription_expired"
)

// Notification сообщение очереди уведомлений.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Email     string           `json:"email"`
	Username  string           `json:"username"`
	Link      string           `json:"link,omitempty"`
	PlanName  string           `json:"plan_name,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}
