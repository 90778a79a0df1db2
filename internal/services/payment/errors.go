package payment

import "errors"

// Ошибки сервиса платежей.
var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrAmountMismatch  = errors.New("amount does not match plan price")
	ErrInvalidMethod   = errors.New("unsupported payment method")
	ErrNotFound        = errors.New("payment not found")
	ErrAlreadyReviewed = errors.New("payment already reviewed")
)
