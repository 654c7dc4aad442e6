package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

// DispatchDue hands scheduled reminders that the dispatcher deferred to it
// once their send time has come. It returns how many were handed off.
func (s *Service) DispatchDue(ctx context.Context, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "consolidation.DispatchDue")
	defer span.End()

	now := s.clock.Now().UTC()
	due, err := s.repo.ListDueUndispatched(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	var (
		dispatched int
		errs       []error
	)
	for i := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := s.dispatchOne(ctx, &due[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			dispatched++
		}
	}

	if len(due) > 0 {
		s.log.Info("consolidation.dispatch_due.finish",
			zap.Int("due", len(due)),
			zap.Int("dispatched", dispatched),
			zap.Int("errors", len(errs)),
		)
	}
	return dispatched, errors.Join(errs...)
}

func (s *Service) dispatchOne(ctx context.Context, reminder *domain.ConsolidatedReminder) (bool, error) {
	now := s.clock.Now().UTC()
	token := uuid.NewString()
	claimed, err := s.repo.ClaimDispatch(ctx, s.db, reminder.ID, token, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	receipt, err := callCollaborator(ctx, s, "email_dispatch", func(ctx context.Context) (domain.DispatchReceipt, error) {
		return s.dispatcher.Dispatch(ctx, sendRequest(reminder, reminder.CompanyID, nil))
	})
	if err != nil {
		s.otelMetrics.RecordDispatch(ctx, "error")
		reason := err.Error()
		if _, updateErr := s.repo.UpdateStatus(context.WithoutCancel(ctx), s.db, reminder.ID, domain.ReminderStatusScheduled, domain.StatusUpdate{
			Status:    domain.ReminderStatusFailed,
			Reason:    &reason,
			UpdatedAt: s.clock.Now().UTC(),
		}); updateErr != nil {
			return false, errors.Join(err, updateErr)
		}
		s.log.Warn("consolidation.dispatch_due.failed",
			zap.String("reminder_id", reminder.ID.String()),
			zap.Error(err),
		)
		return false, nil
	}

	switch {
	case receipt.Deferred:
		// not due after all; drop the claim so a later run picks it up
		s.otelMetrics.RecordDispatch(ctx, "deferred")
		return false, s.repo.UpdateDispatch(ctx, s.db, reminder.ID, "", now)
	case receipt.Delivered:
		s.otelMetrics.RecordDispatch(ctx, "delivered")
		sentAt := s.clock.Now().UTC()
		update := domain.StatusUpdate{
			Status:        domain.ReminderStatusSent,
			SentAt:        &sentAt,
			ContactedAt:   &sentAt,
			UpdatedAt:     sentAt,
			ClearSchedule: true,
		}
		if receipt.DispatchID != "" {
			update.DispatchID = &receipt.DispatchID
		}
		ok, err := s.repo.UpdateStatus(ctx, s.db, reminder.ID, domain.ReminderStatusScheduled, update)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: reminder %s left scheduled during dispatch", domain.ErrInvalidTransition, reminder.ID)
		}
		s.metrics.IncDeliveryStatus(string(domain.DeliveryStatusSent))
		return true, nil
	default:
		s.otelMetrics.RecordDispatch(ctx, "accepted")
		if receipt.DispatchID == "" {
			return true, nil
		}
		return true, s.repo.UpdateDispatch(ctx, s.db, reminder.ID, receipt.DispatchID, now)
	}
}
