package dispatch

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.dispatch",
	fx.Provide(
		NewConnection,
		NewDispatcher,
	),
	fx.Invoke(registerStatusConsumer),
)

// NewConnection dials the broker only for the amqp driver and returns nil otherwise.
func NewConnection(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*amqp.Connection, error) {
	if cfg.Dispatch.Driver != config.DispatchDriverAMQP {
		return nil, nil
	}
	amqpURL, err := sanitizeAMQPURL(cfg.Dispatch.AMQPURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}
	log.Info("amqp.connected", zap.String("exchange", cfg.Dispatch.Exchange))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

type Params struct {
	fx.In

	Lc     fx.Lifecycle
	Config config.Config
	Conn   *amqp.Connection
	Email  email.Provider
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewDispatcher(p Params) (domain.EmailDispatcher, error) {
	if p.Config.Dispatch.Driver != config.DispatchDriverAMQP || p.Conn == nil {
		p.Log.Info("dispatch.driver", zap.String("driver", p.Config.Dispatch.Driver))
		return NewSMTPDispatcher(p.Email, p.Clock, p.Log), nil
	}

	ch, err := p.Conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopology(ch, p.Config.Dispatch.Exchange, p.Config.Dispatch.StatusQueue); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return ch.Close()
		},
	})

	p.Log.Info("dispatch.driver", zap.String("driver", config.DispatchDriverAMQP))
	return NewAMQPDispatcher(ch, p.Config.Dispatch.Exchange, p.Config.Dispatch.RoutingKey, p.Clock, p.Log), nil
}

type consumerParams struct {
	fx.In

	Lc      fx.Lifecycle
	Config  config.Config
	Conn    *amqp.Connection
	Service domain.Service
	Log     *zap.Logger
}

func registerStatusConsumer(p consumerParams) {
	if p.Conn == nil {
		return
	}

	consumer := NewStatusConsumer(p.Service, p.Log)
	var (
		ch     *amqp.Channel
		cancel context.CancelFunc
	)

	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var err error
			ch, err = p.Conn.Channel()
			if err != nil {
				return err
			}
			if err := ch.Qos(10, 0, false); err != nil {
				return err
			}
			msgs, err := ch.Consume(p.Config.Dispatch.StatusQueue, "reminder-status", false, false, false, false, nil)
			if err != nil {
				return err
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go consumer.Run(runCtx, msgs)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			if ch != nil {
				return ch.Close()
			}
			return nil
		},
	})
}
