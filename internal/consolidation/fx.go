package consolidation

import (
	"github.com/smallbiznis/reminder/internal/consolidation/repository"
	"github.com/smallbiznis/reminder/internal/consolidation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("consolidation",
	repository.Module,
	fx.Provide(service.New),
)
