// Package smtp отправка писем SignalDesk: STARTTLS на обычном порту,
// неявный TLS на 465 и открытое соединение для локального почтового стенда.
package smtp

import (
	"context"
	"io"
	"net/mail"
)

// Session SMTP-сессия одного письма.
type Session interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Mailer открывает сессии от имени отправителя писем.
type Mailer interface {
	Open(ctx context.Context) (Session, error)
	Sender() mail.Address
}
