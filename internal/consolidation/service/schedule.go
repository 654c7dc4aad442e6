package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

// ScheduleTime picks the send time for candidate. The result is never earlier
// than the requested time and depends only on the inputs and the clock.
func (s *Service) ScheduleTime(ctx context.Context, companyID snowflake.ID, candidate domain.ConsolidationCandidate, requested *time.Time) (time.Time, error) {
	now := s.clock.Now().UTC()

	var base time.Time
	if requested == nil {
		base = now.Add(RulesFromConfig(s.cfg.Get()).DefaultSendDelay)
	} else {
		base = requested.UTC()
		if base.Before(now) {
			base = now
		}
	}

	slot, err := callCollaborator(ctx, s, "business_calendar", func(ctx context.Context) (time.Time, error) {
		return s.calendar.NextValidSlot(ctx, base)
	})
	if err != nil {
		return time.Time{}, err
	}
	if slot.Before(base) {
		s.log.Warn("consolidation.schedule.calendar_moved_back",
			zap.String("company_id", companyID.String()),
			zap.String("customer_id", candidate.CustomerID.String()),
			zap.Time("base", base),
			zap.Time("slot", slot),
		)
		slot = base
	}
	return slot.UTC(), nil
}
