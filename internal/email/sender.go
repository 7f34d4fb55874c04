package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/LaxRaj/the-garage/internal/config"
	"github.com/LaxRaj/the-garage/internal/logger"
)

// TemplateHeader carries the template id inside a raw message so mock
// senders can index what they store.
const TemplateHeader = "X-Garage-Template"

// Sender defines the interface for sending emails.
// rawMessage is the complete RFC 5322 message, headers included.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// SMTPSender implements Sender using net/smtp.
type SMTPSender struct {
	cfg  *config.Config
	auth smtp.Auth
	addr string
}

// NewSMTPSender returns an SMTP sender, or a LoggingSender when no SMTP host
// is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		logger.Default().Warn(context.Background(), "SMTP host not configured, using logging email sender")
		return &LoggingSender{cfg: cfg}
	}

	return &SMTPSender{
		cfg:  cfg,
		auth: smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost),
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := smtp.SendMail(s.addr, s.auth, s.cfg.SmtpFromAddress, to, rawMessage); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	logger.Ctx(ctx).Info().Strs("to", to).Str("subject", subject).Msg("email sent via SMTP")
	return nil
}

// LoggingSender writes the message to the log instead of sending it.
type LoggingSender struct {
	cfg *config.Config
}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	logger.Ctx(ctx).Info().
		Strs("to", to).
		Str("from", s.cfg.SmtpFromAddress).
		Str("subject", subject).
		Str("raw", string(rawMessage)).
		Msg("email logged")
	return nil
}
