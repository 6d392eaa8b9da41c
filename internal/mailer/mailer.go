// Package mailer sends transactional email.
package mailer

import (
	"context"
	"fmt"
	"sync"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/zaqqye/clubhub_backend/internal/config"
)

type Message struct {
	To      []string
	Subject string
	Body    string
	ReplyTo string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTP mailer, or a log-only mailer when SMTP_HOST is unset.
func New(cfg *config.Config, log *zap.Logger) (Mailer, error) {
	if cfg.SMTPHost == "" {
		return &LogMailer{log: log}, nil
	}
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.SMTPFrom}, nil
}

type SMTPMailer struct {
	client *mail.Client
	from   string
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return fmt.Errorf("invalid reply-to: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// LogMailer records messages instead of sending them.
type LogMailer struct {
	log  *zap.Logger
	mu   sync.Mutex
	sent []Message
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.mu.Lock()
	l.sent = append(l.sent, msg)
	l.mu.Unlock()
	l.log.Info("mail (not sent, smtp disabled)",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

// Sent returns a copy of every message passed to Send.
func (l *LogMailer) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}
