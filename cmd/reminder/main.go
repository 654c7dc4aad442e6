package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/calendar"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation"
	"github.com/smallbiznis/reminder/internal/currency"
	"github.com/smallbiznis/reminder/internal/logger"
	"github.com/smallbiznis/reminder/internal/migration"
	"github.com/smallbiznis/reminder/internal/observability"
	"github.com/smallbiznis/reminder/internal/providers"
	"github.com/smallbiznis/reminder/internal/ratelimit"
	"github.com/smallbiznis/reminder/internal/scheduler"
	"github.com/smallbiznis/reminder/internal/server"
	"github.com/smallbiznis/reminder/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Collaborators
		calendar.Module,
		currency.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		consolidation.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
