package main

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Mailer delivers the run report through an SMTP relay.
type Mailer struct {
	cfg SMTPConfig
	log *zap.Logger
}

func NewMailer(log *zap.Logger, cfg SMTPConfig) *Mailer {
	return &Mailer{
		cfg: cfg,
		log: log.Named("mailer"),
	}
}

func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	msg, err := m.message(subject, body)
	if err != nil {
		return err
	}

	policy := mail.NoTLS
	if m.cfg.StartTLS {
		policy = mail.TLSMandatory
	}

	client, err := mail.NewClient(m.cfg.Server, mail.WithPort(m.cfg.Port), mail.WithTLSPolicy(policy))
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.cfg.Server, m.cfg.Port, err)
	}

	m.log.Info("mail sent", zap.Strings("to", m.cfg.To))

	return nil
}

func (m *Mailer) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}

	if err := msg.To(m.cfg.To...); err != nil {
		return nil, fmt.Errorf("mail to: %w", err)
	}

	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)

	return msg, nil
}
