// Package alert notifica al operador los errores que no se reintentan
// solos: credenciales vencidas, límites de plan. Sin SMTP configurado el
// notifier es un no-op que solo loguea.
package alert

import (
	"context"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
)

// Notifier es el contrato mínimo que consume el worker.
type Notifier interface {
	NotifyOperator(ctx context.Context, subject, body string) error
}

// Config SMTP del mailer.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Enabled indica si hay suficiente configuración para mandar mails.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.To) > 0
}

// New retorna un mailer real o el no-op según configuración.
func New(cfg Config) Notifier {
	if !cfg.Enabled() {
		return noop{}
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &mailer{cfg: cfg, dialer: mail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)}
}

type mailer struct {
	cfg    Config
	dialer *mail.Dialer
}

func (m *mailer) NotifyOperator(ctx context.Context, subject, body string) error {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[crmbridge] %s", subject))
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		logger.From(ctx).Error("operator alert not sent", logger.Err(err))
		return err
	}
	logger.From(ctx).Info("operator alerted", logger.String("subject", subject))
	return nil
}

type noop struct{}

func (noop) NotifyOperator(ctx context.Context, subject, body string) error {
	logger.From(ctx).Warn("operator action required (no smtp configured)",
		logger.String("subject", subject),
		logger.String("detail", body),
	)
	return nil
}
