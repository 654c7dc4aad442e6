package providers

import (
	"github.com/smallbiznis/reminder/internal/providers/dispatch"
	"github.com/smallbiznis/reminder/internal/providers/email"
	"github.com/smallbiznis/reminder/internal/providers/template"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	template.Module,
	dispatch.Module,
)
