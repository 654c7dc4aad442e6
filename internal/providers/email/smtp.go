package email

import (
	"bytes"
	"context"
	"errors"

	mail "gopkg.in/mail.v2"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg    Config
	dialer *mail.Dialer
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipient")
	}
	return p.dialer.DialAndSend(p.build(msg))
}

func (p *SMTPProvider) build(msg Message) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", p.cfg.From)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	for key, value := range msg.Headers {
		m.SetHeader(key, value)
	}
	m.SetBody("text/html", msg.HTMLBody)

	for _, att := range msg.Attachments {
		settings := []mail.FileSetting{}
		if att.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.AttachReader(att.Filename, bytes.NewReader(att.Content), settings...)
	}
	return m
}
