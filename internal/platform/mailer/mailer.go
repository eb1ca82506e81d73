// Package mailer delivers outbound email for the auth service.
//
// Delivery failures are the caller's to log and swallow: a stored
// verification code stays valid even when the message never leaves.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/config"
	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/id"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends a message and returns a provider message id when available.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config controls SMTP delivery.
type Config struct {
	Addr     string `env:"BOOKPLAYER_SMTP_ADDR"`
	From     string `env:"BOOKPLAYER_SMTP_FROM"     envDefault:"no-reply@bookplayer.app"`
	Username string `env:"BOOKPLAYER_SMTP_USERNAME"`
	Password string `env:"BOOKPLAYER_SMTP_PASSWORD"`
}

// NewFromEnv builds an SMTP mailer, or a log-only mailer when no SMTP
// address is configured so local runs work without a mail relay.
func NewFromEnv(logger *slog.Logger) (Mailer, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &LogMailer{Logger: logger}, nil
	}
	return &SMTPMailer{Config: cfg}, nil
}

// SMTPMailer delivers mail through a plain SMTP relay.
type SMTPMailer struct {
	Config Config
}

// Send delivers msg through the configured relay.
func (m *SMTPMailer) Send(_ context.Context, msg Message) (string, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return "", fmt.Errorf("recipient is required")
	}

	messageID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}

	var auth smtp.Auth
	if m.Config.Username != "" {
		host := m.Config.Addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", m.Config.Username, m.Config.Password, host)
	}

	body := buildMIME(m.Config.From, to, msg.Subject, msg.HTML, messageID)
	if err := smtp.SendMail(m.Config.Addr, auth, m.Config.From, []string{to}, body); err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	return messageID, nil
}

func buildMIME(from, to, subject, html, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: <%s@bookplayer.app>\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogMailer records sends without delivering anything.
type LogMailer struct {
	Logger *slog.Logger

	// Sent collects delivered messages for test assertions.
	Sent []Message
}

// Send records msg and returns a generated message id.
func (m *LogMailer) Send(_ context.Context, msg Message) (string, error) {
	m.Sent = append(m.Sent, msg)
	if m.Logger != nil {
		m.Logger.Info("email send skipped, no SMTP relay configured",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
		)
	}
	return id.NewID()
}
