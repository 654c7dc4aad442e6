package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/providers/email"
	"go.uber.org/zap"
)

// sendGrace lets a send planned a moment ago go out now instead of waiting for the next sweep.
const sendGrace = 30 * time.Second

// SMTPDispatcher delivers synchronously. Sends planned for later are
// deferred and picked up again once due.
type SMTPDispatcher struct {
	provider email.Provider
	clock    clock.Clock
	log      *zap.Logger
}

var _ domain.EmailDispatcher = (*SMTPDispatcher)(nil)

func NewSMTPDispatcher(provider email.Provider, c clock.Clock, log *zap.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{provider: provider, clock: c, log: log.Named("dispatch.smtp")}
}

func (d *SMTPDispatcher) Dispatch(ctx context.Context, req domain.SendRequest) (domain.DispatchReceipt, error) {
	now := d.clock.Now()
	if req.ScheduledFor != nil && req.ScheduledFor.After(now.Add(sendGrace)) {
		return domain.DispatchReceipt{Deferred: true, AcceptedAt: now}, nil
	}

	attachments := make([]email.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, email.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		})
	}

	dispatchID := uuid.NewString()
	err := d.provider.Send(ctx, email.Message{
		To:       []string{req.To},
		Subject:  req.Subject,
		HTMLBody: req.Body,
		Headers: map[string]string{
			"X-Reminder-ID": req.ReminderID.String(),
			"X-Dispatch-ID": dispatchID,
		},
		Attachments: attachments,
	})
	if err != nil {
		return domain.DispatchReceipt{}, err
	}

	d.log.Debug("dispatch.smtp.sent",
		zap.String("dispatch_id", dispatchID),
		zap.String("reminder_id", req.ReminderID.String()),
	)
	return domain.DispatchReceipt{DispatchID: dispatchID, Delivered: true, AcceptedAt: now}, nil
}
