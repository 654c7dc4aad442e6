package template

import (
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.template",
	fx.Provide(func(c clock.Clock) (domain.TemplateRenderer, error) {
		return NewRenderer(c.Now)
	}),
)
