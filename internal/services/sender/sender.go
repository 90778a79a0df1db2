// Package sender отправляет письма по сообщениям из очередей уведомлений.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/magabrotheeeer/signaldesk/internal/lib/sl"
	"github.com/magabrotheeeer/signaldesk/internal/lib/smtp"
	"github.com/magabrotheeeer/signaldesk/internal/models"
)

// ErrMalformed сообщение нельзя превратить в письмо. Повторная доставка не поможет.
var ErrMalformed = errors.New("malformed notification")

const sendTimeout = 30 * time.Second

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[models.NotificationKind]mailTemplate{
	models.NotifyConfirmEmail: {
		subject: "Подтвердите адрес почты в SignalDesk",
		body: template.Must(template.New("confirm").Parse(`Здравствуйте, {{.Username}}!

Чтобы завершить регистрацию, перейдите по ссылке:
{{.Link}}

Если вы не регистрировались в SignalDesk, просто проигнорируйте это письмо.
`)),
	},
	models.NotifyPaymentApproved: {
		subject: "Подписка SignalDesk активна",
		body: template.Must(template.New("approved").Parse(`Здравствуйте, {{.Username}}!

Оплата тарифа {{.PlanName}} подтверждена.{{if .ExpiresAt}} Подписка действует до {{.ExpiresAt.Format "02.01.2006"}}.{{end}}
`)),
	},
	models.NotifyPaymentRejected: {
		subject: "Платёж SignalDesk отклонён",
		body: template.Must(template.New("rejected").Parse(`Здравствуйте, {{.Username}}!

Мы не смогли подтвердить оплату{{if .PlanName}} тарифа {{.PlanName}}{{end}}.{{if .Reason}}
Причина: {{.Reason}}{{end}}

Вы можете отправить платёж повторно в личном кабинете.
`)),
	},
	models.NotifySubscriptionGone: {
		subject: "Подписка SignalDesk закончилась",
		body: template.Must(template.New("expired").Parse(`Здравствуйте, {{.Username}}!

Срок вашей подписки{{if .ExpiresAt}} истёк {{.ExpiresAt.Format "02.01.2006"}}{{else}} истёк{{end}}.
Чтобы снова получать сигналы, выберите тариф в личном кабинете.
`)),
	},
}

// SenderService превращает уведомления в письма.
type SenderService struct {
	mailer smtp.Mailer
	log    *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(log *slog.Logger, mailer smtp.Mailer) *SenderService {
	return &SenderService{
		mailer: mailer,
		log:    log,
	}
}

// Send разбирает тело сообщения очереди и отправляет письмо.
func (s *SenderService) Send(body []byte) error {
	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: error unmarshalling message: %v", ErrMalformed, err)
	}
	if n.Email == "" {
		return fmt.Errorf("%w: empty recipient", ErrMalformed)
	}
	tmpl, ok := templates[n.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, n.Kind)
	}

	var text bytes.Buffer
	if err := tmpl.body.Execute(&text, n); err != nil {
		return fmt.Errorf("%w: render %s: %v", ErrMalformed, n.Kind, err)
	}
	return s.sendEmail([]string{n.Email}, tmpl.subject, text.String())
}

// Handler обработчик для потребителя очереди. Испорченные сообщения подтверждаются
// и пропускаются, ошибки SMTP возвращают сообщение в очередь.
func (s *SenderService) Handler(queue string) func([]byte) error {
	log := s.log.With(slog.String("queue", queue))
	return func(body []byte) error {
		err := s.Send(body)
		if errors.Is(err, ErrMalformed) {
			log.Error("dropping notification", sl.Err(err))
			return nil
		}
		return err
	}
}

func (s *SenderService) sendEmail(to []string, subject, bodyText string) error {
	from := s.mailer.Sender()
	msg := strings.Join([]string{
		"From: " + from.String(),
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	client, err := s.mailer.Open(ctx)
	if err != nil {
		s.log.Error("Failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from.Address); err != nil {
		s.log.Error("Failed to set MAIL FROM", slog.String("from", from.Address), sl.Err(err))
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("Failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("Failed to get Data writer", sl.Err(err))
		return err
	}

	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("Failed to write email body", sl.Err(err))
		return err
	}

	if err = wc.Close(); err != nil {
		s.log.Error("Failed to close Data writer", sl.Err(err))
		return err
	}

	if err = client.Quit(); err != nil {
		s.log.Error("Failed to quit SMTP client", sl.Err(err))
		return err
	}

	s.log.Info("email sent successfully", slog.Any("to", to), slog.String("subject", subject))
	return nil
}
