package currency

import (
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("currency",
	fx.Provide(Provide),
)

func Provide(holder *config.ConsolidationConfigHolder, log *zap.Logger) domain.CurrencyConverter {
	converter := NewStaticConverter(holder.Get().ExchangeRates)

	log = log.Named("currency")
	holder.OnChange(func(cfg config.ConsolidationConfig) {
		converter.SetRates(cfg.ExchangeRates)
		log.Info("currency.rates.reloaded", zap.Int("currencies", len(cfg.ExchangeRates)))
	})

	return converter
}
