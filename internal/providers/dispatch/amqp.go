package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

// delayedExchangeType needs the rabbitmq_delayed_message_exchange plugin.
const delayedExchangeType = "x-delayed-message"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher hands reminders to the mail worker through a delayed topic
// exchange. Scheduled sends carry an x-delay header so the broker holds them.
type AMQPDispatcher struct {
	mu         sync.Mutex
	channel    publisher
	exchange   string
	routingKey string
	clock      clock.Clock
	log        *zap.Logger
}

var _ domain.EmailDispatcher = (*AMQPDispatcher)(nil)

func NewAMQPDispatcher(ch publisher, exchange, routingKey string, c clock.Clock, log *zap.Logger) *AMQPDispatcher {
	return &AMQPDispatcher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		clock:      c,
		log:        log.Named("dispatch.amqp"),
	}
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, req domain.SendRequest) (domain.DispatchReceipt, error) {
	dispatchID := uuid.NewString()
	body, err := json.Marshal(newSendMessage(dispatchID, req))
	if err != nil {
		return domain.DispatchReceipt{}, err
	}

	now := d.clock.Now()
	headers := amqp.Table{}
	if req.ScheduledFor != nil {
		if delay := req.ScheduledFor.Sub(now); delay > 0 {
			headers["x-delay"] = delay.Milliseconds()
		}
	}

	d.mu.Lock()
	err = d.channel.PublishWithContext(ctx, d.exchange, d.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    dispatchID,
		Timestamp:    now,
		Headers:      headers,
		Body:         body,
	})
	d.mu.Unlock()
	if err != nil {
		return domain.DispatchReceipt{}, fmt.Errorf("publish reminder %s: %w", req.ReminderID, err)
	}

	d.log.Debug("dispatch.amqp.published",
		zap.String("dispatch_id", dispatchID),
		zap.String("reminder_id", req.ReminderID.String()),
		zap.Any("x_delay_ms", headers["x-delay"]),
	)
	return domain.DispatchReceipt{DispatchID: dispatchID, AcceptedAt: now}, nil
}

// DeclareTopology sets up the send exchange and the status queue binding.
func DeclareTopology(ch *amqp.Channel, exchange, statusQueue string) error {
	if err := ch.ExchangeDeclare(exchange, delayedExchangeType, true, false, false, false, amqp.Table{
		"x-delayed-type": "topic",
	}); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(statusQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", statusQueue, err)
	}
	if err := ch.QueueBind(statusQueue, statusQueue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", statusQueue, err)
	}
	return nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
