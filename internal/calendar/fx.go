package calendar

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("calendar",
	fx.Provide(Provide),
)

func FromConfig(cfg config.CalendarConfig) Config {
	blackouts := make([]Blackout, 0, len(cfg.Blackouts))
	for _, b := range cfg.Blackouts {
		blackouts = append(blackouts, Blackout{
			Name:     b.Name,
			Weekdays: b.Weekdays,
			Start:    b.Start,
			End:      b.End,
		})
	}
	return Config{
		Timezone:  cfg.Timezone,
		Workdays:  cfg.Workdays,
		OpenTime:  cfg.OpenTime,
		CloseTime: cfg.CloseTime,
		Holidays:  cfg.Holidays,
		Blackouts: blackouts,
	}
}

// Reloadable swaps its calendar whenever the rules file changes.
type Reloadable struct {
	current atomic.Pointer[Calendar]
}

func (r *Reloadable) NextValidSlot(ctx context.Context, t time.Time) (time.Time, error) {
	return r.current.Load().NextValidSlot(ctx, t)
}

func (r *Reloadable) Location() *time.Location {
	return r.current.Load().Location()
}

func Provide(holder *config.ConsolidationConfigHolder, log *zap.Logger) (domain.BusinessCalendar, *Reloadable, error) {
	cal, err := New(FromConfig(holder.Get().Calendar))
	if err != nil {
		return nil, nil, err
	}

	r := &Reloadable{}
	r.current.Store(cal)

	log = log.Named("calendar")
	holder.OnChange(func(cfg config.ConsolidationConfig) {
		next, err := New(FromConfig(cfg.Calendar))
		if err != nil {
			log.Warn("calendar.reload.rejected", zap.Error(err))
			return
		}
		r.current.Store(next)
		log.Info("calendar.reloaded", zap.String("timezone", next.Location().String()))
	})

	return r, r, nil
}
