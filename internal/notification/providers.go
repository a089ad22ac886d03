package notification

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/shared/config"
)

// Provider delivers a single notification.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// NewProvider returns the SMTP provider when SMTP is enabled and the log
// provider otherwise.
func NewProvider(cfg config.SMTPConfig, log *zap.Logger) Provider {
	if !cfg.Enabled {
		return NewLogProvider(log)
	}
	return NewSMTPProvider(cfg)
}

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPProvider sends plain-text email through an SMTP relay.
type SMTPProvider struct {
	from     string
	fromName string
	dialer   dialer
}

// NewSMTPProvider creates an SMTP provider. Port 465 uses implicit TLS;
// other ports negotiate STARTTLS when the server offers it.
func NewSMTPProvider(cfg config.SMTPConfig) *SMTPProvider {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	d.SSL = cfg.Port == 465
	return &SMTPProvider{from: cfg.From, fromName: cfg.FromName, dialer: d}
}

func (p *SMTPProvider) Name() string { return "smtp" }

// Send sends the message.
func (p *SMTPProvider) Send(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetAddressHeader("From", p.from, p.fromName)
	if n.RecipientName != "" {
		m.SetAddressHeader("To", n.Email, n.RecipientName)
	} else {
		m.SetHeader("To", n.Email)
	}
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/plain", n.Body)

	if err := p.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogProvider writes notifications to the log instead of sending them.
type LogProvider struct {
	log *zap.Logger
}

// NewLogProvider creates a log provider.
func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("notification")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, n *Notification) error {
	p.log.Info("notification",
		zap.String("id", n.ID),
		zap.String("template", string(n.Template)),
		zap.String("to", n.Email),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
