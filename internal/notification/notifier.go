package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/model"
)

// sendMail is swapped out in tests.
var sendMail = smtp.SendMail

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	// PlainAuth will not send credentials until the server identifies itself as a trusted one.
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth}
}

// Send sends an HTML email to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	recipients := recipientList(n.cfg.To)
	if len(recipients) == 0 {
		return errors.New("no email recipients configured")
	}

	if err := sendMail(addr, n.auth, n.cfg.From, recipients, buildMessage(n.cfg.From, recipients, subject, body)); err != nil {
		return errors.Wrap(err, "failed to send email")
	}
	return nil
}

func recipientList(to string) []string {
	var out []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildMessage(from string, to []string, subject, body string) []byte {
	return []byte("To: " + strings.Join(to, ", ") + "\r\n" +
		"From: " + from + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		body)
}
