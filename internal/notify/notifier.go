// Package notify sends the single end-of-run notification for each
// pipeline instance and records the outcome in the file audit log.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Notifier delivers a plain-text message to the configured recipients.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

type smtpNotifier struct {
	cfg *Config
}

// NewNotifier creates an SMTP notifier from config.
func NewNotifier(cfg *Config) Notifier {
	return &smtpNotifier{cfg: cfg}
}

func (n *smtpNotifier) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + n.cfg.From,
		"To: " + strings.Join(n.cfg.To, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(n.cfg.Addr(), auth, n.cfg.From, n.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
