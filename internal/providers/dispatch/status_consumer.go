package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

type StatusRecorder interface {
	RecordDeliveryStatus(ctx context.Context, update domain.DeliveryStatusUpdate) (domain.ConsolidatedReminder, error)
}

// StatusConsumer applies delivery reports from the mail worker.
type StatusConsumer struct {
	recorder StatusRecorder
	log      *zap.Logger
}

func NewStatusConsumer(recorder StatusRecorder, log *zap.Logger) *StatusConsumer {
	return &StatusConsumer{recorder: recorder, log: log.Named("dispatch.status")}
}

// Run acknowledges each delivery until msgs closes or ctx ends.
func (c *StatusConsumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.log.Warn("dispatch.status.channel_closed")
				return
			}
			ack, requeue := c.Handle(ctx, d.Body)
			if ack {
				_ = d.Ack(false)
			} else {
				_ = d.Nack(false, requeue)
			}
		}
	}
}

// Handle reports whether the message should be acked, and if not whether
// it is worth redelivering.
func (c *StatusConsumer) Handle(ctx context.Context, body []byte) (ack bool, requeue bool) {
	var msg StatusMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.log.Warn("dispatch.status.malformed", zap.Error(err))
		return false, false
	}

	_, err := c.recorder.RecordDeliveryStatus(ctx, domain.DeliveryStatusUpdate{
		ReminderID: msg.ReminderID,
		DispatchID: msg.DispatchID,
		Status:     domain.DeliveryStatus(msg.Status),
		Reason:     msg.Reason,
		OccurredAt: msg.OccurredAt,
	})
	switch {
	case err == nil:
		c.log.Info("dispatch.status.applied",
			zap.String("reminder_id", msg.ReminderID),
			zap.String("status", msg.Status),
		)
		return true, false
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTransition):
		c.log.Warn("dispatch.status.rejected",
			zap.String("reminder_id", msg.ReminderID),
			zap.String("status", msg.Status),
			zap.Error(err),
		)
		return true, false
	default:
		c.log.Error("dispatch.status.failed",
			zap.String("reminder_id", msg.ReminderID),
			zap.Error(err),
		)
		return false, true
	}
}
