package report

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/config"
	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// sendFunc matches smtp.SendMail, swappable in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer implements hunter.Mailer over plain SMTP with AUTH.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

// NewSMTPMailer builds an SMTPMailer.
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail, logger: logger}
}

// SendDigest renders the report and mails it as HTML.
func (m *SMTPMailer) SendDigest(ctx context.Context, recipient string, report hunter.Report) error {
	body, err := RenderDigest(report)
	if err != nil {
		return err
	}
	return m.mail(ctx, recipient, DigestSubject(report), "text/html; charset=\"UTF-8\"", body)
}

// SendNote mails a short plain text status message.
func (m *SMTPMailer) SendNote(ctx context.Context, recipient, subject, body string) error {
	return m.mail(ctx, recipient, subject, "text/plain; charset=\"UTF-8\"", body)
}

func (m *SMTPMailer) mail(ctx context.Context, recipient, subject, contentType, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mail canceled: %w", err)
	}
	if recipient == "" {
		recipient = m.cfg.Recipient
	}
	if recipient == "" {
		return fmt.Errorf("no recipient configured")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.User)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: %s\r\n", contentType)
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	if err := m.send(addr, auth, m.cfg.User, []string{recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", recipient, err)
	}
	m.logger.Info("mail sent", zap.String("recipient", recipient), zap.String("subject", subject))
	return nil
}

// NopMailer drops all mail. Used when SMTP delivery is disabled.
type NopMailer struct {
	logger *zap.Logger
}

// NewNopMailer builds a NopMailer.
func NewNopMailer(logger *zap.Logger) *NopMailer {
	return &NopMailer{logger: logger}
}

// SendDigest logs the digest summary instead of mailing it.
func (m *NopMailer) SendDigest(_ context.Context, recipient string, report hunter.Report) error {
	m.logger.Info("smtp disabled, digest not sent",
		zap.String("recipient", recipient),
		zap.String("summary", Summary(report)))
	return nil
}

// SendNote logs the note instead of mailing it.
func (m *NopMailer) SendNote(_ context.Context, recipient, subject, _ string) error {
	m.logger.Info("smtp disabled, note not sent",
		zap.String("recipient", recipient),
		zap.String("subject", subject))
	return nil
}
