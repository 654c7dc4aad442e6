package email

import (
	"context"

	"go.uber.org/zap"
)

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          []string
	Subject     string
	HTMLBody    string
	Headers     map[string]string
	Attachments []Attachment
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// NoOpProvider logs instead of sending. Used by the noop dispatch driver.
type NoOpProvider struct {
	Log *zap.Logger
}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	if p.Log != nil {
		p.Log.Info("email.noop.send",
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Int("attachments", len(msg.Attachments)),
		)
	}
	return nil
}
