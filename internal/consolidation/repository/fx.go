package repository

import "go.uber.org/fx"

var Module = fx.Module("consolidation.repository",
	fx.Provide(
		NewInvoiceStore,
		NewCustomerDirectory,
		NewContactHistory,
		NewReminderRepository,
	),
)
