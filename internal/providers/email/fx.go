package email

import (
	"github.com/smallbiznis/reminder/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig only talks to SMTP when the smtp driver is selected.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Dispatch.Driver != config.DispatchDriverSMTP {
		return &NoOpProvider{Log: log.Named("email")}
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}
