package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
)

// implicitTLSPort порт SMTPS, где TLS начинается до приветствия сервера.
const implicitTLSPort = "465"

const dialTimeout = 10 * time.Second

// ErrNoStartTLS сервер не предлагает STARTTLS, а открытое соединение не разрешено.
var ErrNoStartTLS = errors.New("smtp server does not support STARTTLS")

// Transport открывает новое соединение на каждое письмо.
type Transport struct {
	cfg    config.SMTP
	log    *slog.Logger
	sender mail.Address
}

// NewTransport создает новый экземпляр Transport.
func NewTransport(cfg config.SMTP, log *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		log:    log.With(slog.String("smtp_host", cfg.SMTPHost)),
		sender: mail.Address{Name: cfg.SMTPFromName, Address: cfg.SMTPUser},
	}
}

// Sender адрес, от имени которого уходят письма.
func (t *Transport) Sender() mail.Address {
	return t.sender
}

// Open устанавливает соединение и проходит TLS и авторизацию.
func (t *Transport) Open(ctx context.Context) (Session, error) {
	const op = "smtp.Open"

	tlsConfig := &tls.Config{
		ServerName: t.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}
	conn, err := t.dial(ctx, tlsConfig)
	if err != nil {
		t.log.Error("failed to dial SMTP server", sl.Err(err))
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	client, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		t.log.Error("failed to create SMTP client", sl.Err(err))
		_ = conn.Close()
		return nil, fmt.Errorf("%s: handshake: %w", op, err)
	}

	if t.cfg.SMTPPort != implicitTLSPort {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return nil, t.abort(client, op, "starttls", err)
			}
		} else if t.cfg.SMTPStartTLS {
			return nil, t.abort(client, op, "starttls", ErrNoStartTLS)
		}
	}

	// локальный стенд принимает письма без авторизации
	if t.cfg.SMTPPass != "" {
		auth := smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPass, t.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return nil, t.abort(client, op, "auth", err)
		}
	}
	return client, nil
}

func (t *Transport) dial(ctx context.Context, tlsConfig *tls.Config) (net.Conn, error) {
	addr := net.JoinHostPort(t.cfg.SMTPHost, t.cfg.SMTPPort)
	d := &net.Dialer{Timeout: dialTimeout}
	if t.cfg.SMTPPort == implicitTLSPort {
		return (&tls.Dialer{NetDialer: d, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

func (t *Transport) abort(client *smtp.Client, op, step string, err error) error {
	t.log.Error("smtp session failed", slog.String("step", step), sl.Err(err))
	if closeErr := client.Close(); closeErr != nil {
		t.log.Warn("failed to close SMTP client", sl.Err(closeErr))
	}
	return fmt.Errorf("%s: %s: %w", op, step, err)
}
