package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/ldsaas/backend/internal/config"
)

type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a SendGrid sender when an API key is configured and a
// LogSender otherwise.
func New(cfg config.MailConfig, log *slog.Logger) Sender {
	if !cfg.Enabled() {
		return NewLogSender(log)
	}
	return NewSendGrid(cfg.SendGridAPIKey, cfg.From, cfg.FromName, log)
}

type SendGrid struct {
	client   *sendgrid.Client
	from     string
	fromName string
	log      *slog.Logger
}

func NewSendGrid(apiKey, from, fromName string, log *slog.Logger) *SendGrid {
	if log == nil {
		log = slog.Default()
	}
	return &SendGrid{
		client:   sendgrid.NewSendClient(apiKey),
		from:     from,
		fromName: fromName,
		log:      log,
	}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient address is empty")
	}
	m := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Text,
		msg.HTML,
	)
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	s.log.Info("mail sent", "to", msg.To, "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}

// LogSender is used when no mail provider is configured. It drops the
// message and logs that it did.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Warn("mail not configured; skipping send", "to", msg.To, "subject", msg.Subject)
	return nil
}
