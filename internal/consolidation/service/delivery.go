package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/companycontext"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

// statusUpdateAttempts bounds re-reads when a concurrent writer moves the row first.
const statusUpdateAttempts = 3

func (s *Service) GetReminder(ctx context.Context, id string) (domain.ConsolidatedReminder, error) {
	reminderID, err := parseID(id)
	if err != nil {
		return domain.ConsolidatedReminder{}, err
	}
	reminder, err := s.findReminder(ctx, reminderID)
	if err != nil {
		return domain.ConsolidatedReminder{}, err
	}

	invoices, err := s.repo.ListInvoices(ctx, s.db, reminder.ID)
	if err != nil {
		return domain.ConsolidatedReminder{}, err
	}
	reminder.Invoices = invoices
	return *reminder, nil
}

// findReminder loads a reminder, hiding rows of other companies when the
// context is scoped to one.
func (s *Service) findReminder(ctx context.Context, id snowflake.ID) (*domain.ConsolidatedReminder, error) {
	reminder, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if reminder == nil {
		return nil, domain.ErrNotFound
	}
	if companyID, ok := companycontext.CompanyIDFromContext(ctx); ok && reminder.CompanyID != companyID {
		return nil, domain.ErrNotFound
	}
	return reminder, nil
}

// RecordDeliveryStatus applies an asynchronous delivery report. Repeated
// reports of the current status are accepted without writing.
func (s *Service) RecordDeliveryStatus(ctx context.Context, update domain.DeliveryStatusUpdate) (domain.ConsolidatedReminder, error) {
	reminderID, err := parseID(update.ReminderID)
	if err != nil {
		return domain.ConsolidatedReminder{}, err
	}
	if !update.Status.Valid() {
		return domain.ConsolidatedReminder{}, fmt.Errorf("%w: unknown delivery status %q", domain.ErrInvalidInput, update.Status)
	}
	dispatchID := strings.TrimSpace(update.DispatchID)

	for attempt := 0; attempt < statusUpdateAttempts; attempt++ {
		reminder, err := s.findReminder(ctx, reminderID)
		if err != nil {
			return domain.ConsolidatedReminder{}, err
		}
		if dispatchID != "" && reminder.DispatchID != nil && *reminder.DispatchID != "" && *reminder.DispatchID != dispatchID {
			return domain.ConsolidatedReminder{}, fmt.Errorf("%w: dispatch id does not match reminder %s", domain.ErrInvalidInput, reminder.ID)
		}

		next, noop, err := domain.NextStatus(reminder.Status, update.Status)
		if err != nil {
			return domain.ConsolidatedReminder{}, err
		}
		if noop {
			s.log.Debug("consolidation.delivery.duplicate",
				zap.String("reminder_id", reminder.ID.String()),
				zap.String("status", string(update.Status)),
			)
			return s.GetReminder(ctx, update.ReminderID)
		}

		now := s.clock.Now().UTC()
		occurred := now
		if update.OccurredAt != nil && !update.OccurredAt.IsZero() {
			occurred = update.OccurredAt.UTC()
		}

		change := domain.StatusUpdate{Status: next, UpdatedAt: now}
		if dispatchID != "" && (reminder.DispatchID == nil || *reminder.DispatchID == "") {
			change.DispatchID = &dispatchID
		}
		switch next {
		case domain.ReminderStatusSent:
			change.ContactedAt = &occurred
			change.ClearSchedule = true
			if reminder.SentAt == nil {
				change.SentAt = &occurred
			}
		case domain.ReminderStatusFailed:
			reason := strings.TrimSpace(update.Reason)
			if reason == "" {
				reason = string(update.Status)
			}
			change.Reason = &reason
		}

		ok, err := s.repo.UpdateStatus(ctx, s.db, reminder.ID, reminder.Status, change)
		if err != nil {
			return domain.ConsolidatedReminder{}, err
		}
		if !ok {
			continue
		}

		s.metrics.IncDeliveryStatus(string(update.Status))
		s.log.Info("consolidation.delivery.recorded",
			zap.String("reminder_id", reminder.ID.String()),
			zap.String("from", string(reminder.Status)),
			zap.String("to", string(next)),
			zap.String("event", string(update.Status)),
		)
		return s.GetReminder(ctx, update.ReminderID)
	}

	return domain.ConsolidatedReminder{}, fmt.Errorf("%w: reminder %s kept changing", domain.ErrInvalidTransition, reminderID)
}
