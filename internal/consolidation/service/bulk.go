package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
)

func (s *Service) SendConsolidated(ctx context.Context, req domain.SendConsolidatedRequest) (domain.SendConsolidatedResponse, error) {
	companyID, err := s.companyIDFromContext(ctx)
	if err != nil {
		return domain.SendConsolidatedResponse{}, err
	}
	return s.sendBatch(ctx, companyID, req, TriggerManual)
}

// sendBatch processes every customer independently and always returns one
// result per requested ID, in request order.
func (s *Service) sendBatch(ctx context.Context, companyID snowflake.ID, req domain.SendConsolidatedRequest, trigger string) (domain.SendConsolidatedResponse, error) {
	if len(req.CustomerIDs) == 0 {
		return domain.SendConsolidatedResponse{}, fmt.Errorf("%w: customer_ids is required", domain.ErrInvalidInput)
	}
	if req.Timeout < 0 {
		return domain.SendConsolidatedResponse{}, fmt.Errorf("%w: timeout cannot be negative", domain.ErrInvalidInput)
	}

	// rejected before any lookup
	if limit := RulesFromConfig(s.cfg.Get()).MaxBatchSize; len(req.CustomerIDs) > limit {
		return domain.SendConsolidatedResponse{}, fmt.Errorf("%w: %d customers requested, maximum is %d",
			domain.ErrCapacityExceeded, len(req.CustomerIDs), limit)
	}

	ctx, span := s.tracer.Start(ctx, "consolidation.SendConsolidated")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("company_id", companyID.Int64()),
		attribute.Int("batch_size", len(req.CustomerIDs)),
		attribute.String("trigger", trigger),
	)

	company, err := s.loadCompany(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.SendConsolidatedResponse{}, err
	}
	rules := s.rules(company)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = rules.BatchTimeout
	}
	concurrency := rules.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	started := time.Now()
	s.log.Info("consolidation.bulk.start",
		zap.String("company_id", companyID.String()),
		zap.String("trigger", trigger),
		zap.Int("customers", len(req.CustomerIDs)),
		zap.Bool("send_now", req.SendNow),
		zap.Duration("timeout", timeout),
	)

	batchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]domain.BulkResult, len(req.CustomerIDs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, raw := range req.CustomerIDs {
		if batchCtx.Err() != nil {
			results[i] = notAttempted(raw)
			continue
		}
		g.Go(func() error {
			if batchCtx.Err() != nil {
				results[i] = notAttempted(raw)
				return nil
			}
			results[i] = s.sendOne(batchCtx, company, rules, raw, req, trigger)
			return nil
		})
	}
	_ = g.Wait()

	resp := summarize(results)
	for _, result := range results {
		s.metrics.IncBulkResult(result.Success, string(result.Reason))
	}
	s.metrics.ObserveBulk(trigger, len(results), time.Since(started))

	s.log.Info("consolidation.bulk.finish",
		zap.String("company_id", companyID.String()),
		zap.String("trigger", trigger),
		zap.Int("succeeded", resp.Succeeded),
		zap.Int("failed", resp.Failed),
		zap.Duration("duration", time.Since(started)),
	)
	span.SetAttributes(attribute.Int("succeeded", resp.Succeeded), attribute.Int("failed", resp.Failed))
	return resp, nil
}

func (s *Service) sendOne(
	ctx context.Context,
	company *domain.CompanySettings,
	rules domain.Rules,
	rawID string,
	req domain.SendConsolidatedRequest,
	trigger string,
) domain.BulkResult {
	ctx, span := s.tracer.Start(ctx, "consolidation.sendOne")
	defer span.End()

	result := domain.BulkResult{CustomerID: rawID}
	customerID, err := parseID(rawID)
	if err != nil {
		return failed(result, domain.ReasonInvalidCustomerID, nil)
	}
	span.SetAttributes(attribute.Int64("customer_id", customerID.Int64()))

	now := s.clock.Now().UTC()
	candidate, reason, err := s.currentCandidate(ctx, company, rules, customerID, now)
	if err != nil {
		return s.failedWithError(ctx, result, customerID, err)
	}
	result.CustomerName = candidate.CustomerName
	if reason != "" {
		return failed(result, reason, nil)
	}

	if !candidate.CanContact {
		result.NextEligibleAt = candidate.NextEligibleAt
		return failed(result, domain.ReasonContactWindowNotElapsed, nil)
	}

	pending, err := callCollaborator(ctx, s, "reminder_store", func(ctx context.Context) (bool, error) {
		return s.repo.HasUnresolved(ctx, s.db, company.ID, customerID)
	})
	if err != nil {
		return s.failedWithError(ctx, result, customerID, err)
	}
	if pending {
		return failed(result, domain.ReasonReminderAlreadyPending, nil)
	}

	var sendAt *time.Time
	if !req.SendNow {
		at, err := s.ScheduleTime(ctx, company.ID, candidate, req.RequestedTime)
		if err != nil {
			return s.failedWithError(ctx, result, customerID, err)
		}
		sendAt = &at
	}

	rendered, err := s.renderer.Render(ctx, domain.RenderRequest{
		Level:       candidate.EscalationLevel,
		Language:    candidate.Language,
		CompanyName: company.Name,
		Candidate:   candidate,
	})
	if err != nil {
		return s.failedWithError(ctx, result, customerID, fmt.Errorf("%w: render: %v", domain.ErrCollaboratorUnavailable, err))
	}

	acquired, err := callCollaborator(ctx, s, "send_quota", func(ctx context.Context) (bool, error) {
		return s.quota.Acquire(ctx, company.ID, now, rules.DailySendQuota)
	})
	if err != nil {
		return s.failedWithError(ctx, result, customerID, err)
	}
	if !acquired {
		s.otelMetrics.RecordQuotaDenied(ctx, trigger)
		return failed(result, domain.ReasonDailyQuotaExhausted, nil)
	}

	reminder, err := s.createAndDispatch(ctx, company, rules, candidate, rendered, sendAt, now, trigger, req)
	if err != nil {
		// nothing went out; give the slot back even if the batch timed out
		if rules.DailySendQuota > 0 {
			if releaseErr := s.quota.Release(context.WithoutCancel(ctx), company.ID, now); releaseErr != nil {
				s.log.Warn("consolidation.quota.release_failed",
					zap.String("company_id", company.ID.String()),
					zap.Error(releaseErr),
				)
			}
		}
		if reminder != nil {
			result.ReminderID = reminder.ID.String()
			result.Status = reminder.Status
		}
		return s.failedWithError(ctx, result, customerID, err)
	}

	s.metrics.IncReminderCreated(string(reminder.Status), string(reminder.EscalationLevel))
	result.Success = true
	result.ReminderID = reminder.ID.String()
	result.Status = reminder.Status
	result.ScheduledFor = reminder.ScheduledFor
	return result
}

// currentCandidate rebuilds the customer's candidate from live data. A
// non-empty reason means the customer cannot be chased right now.
func (s *Service) currentCandidate(
	ctx context.Context,
	company *domain.CompanySettings,
	rules domain.Rules,
	customerID snowflake.ID,
	now time.Time,
) (domain.ConsolidationCandidate, domain.FailureReason, error) {
	profiles, err := s.loadProfiles(ctx, company.ID, []snowflake.ID{customerID})
	if err != nil {
		return domain.ConsolidationCandidate{}, "", err
	}
	profile, ok := profiles[customerID]
	if !ok {
		return domain.ConsolidationCandidate{}, domain.ReasonInvalidCustomerID, nil
	}

	invoices, err := callCollaborator(ctx, s, "invoice_store", func(ctx context.Context) ([]domain.OverdueInvoice, error) {
		return s.invoices.ListCustomerOverdueInvoices(ctx, company.ID, customerID, now)
	})
	if err != nil {
		return domain.ConsolidationCandidate{}, "", err
	}

	unavailable := domain.ConsolidationCandidate{CustomerID: customerID, CustomerName: profile.Name}
	groups, oversized := domain.GroupInvoices(invoices, rules.MaxInvoicesPerReminder)
	if len(groups) == 0 {
		if len(oversized) > 0 {
			return unavailable, domain.ReasonManualReviewRequired, nil
		}
		return unavailable, domain.ReasonNoLongerEligible, nil
	}

	last, err := s.lastContact(ctx, company.ID, customerID)
	if err != nil {
		return domain.ConsolidationCandidate{}, "", err
	}

	candidates := make([]domain.ConsolidationCandidate, 0, len(groups))
	for _, group := range groups {
		candidate, ok, err := s.buildCandidate(ctx, rules, group, profile, last, now)
		if err != nil {
			return domain.ConsolidationCandidate{}, "", err
		}
		if ok {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 {
		return unavailable, domain.ReasonNoLongerEligible, nil
	}
	// one reminder per customer and round: the highest-priority currency goes first
	domain.SortCandidates(candidates)
	return candidates[0], "", nil
}

// createAndDispatch commits the reminder with its invoice snapshot, then hands
// it to the dispatcher. The row is inserted with a dispatch claim so the
// due-dispatch job cannot deliver it at the same time. A failed hand-off
// leaves the reminder failed, which frees the customer; the returned
// reminder is non-nil whenever the row exists.
func (s *Service) createAndDispatch(
	ctx context.Context,
	company *domain.CompanySettings,
	rules domain.Rules,
	candidate domain.ConsolidationCandidate,
	rendered domain.RenderedMessage,
	sendAt *time.Time,
	now time.Time,
	trigger string,
	req domain.SendConsolidatedRequest,
) (*domain.ConsolidatedReminder, error) {
	reminder := s.newReminder(company, rules, candidate, rendered, sendAt, now, trigger, req)
	claim := uuid.NewString()
	reminder.DispatchID = &claim

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, reminder)
	}); err != nil {
		return nil, err
	}

	receipt, err := callCollaborator(ctx, s, "email_dispatch", func(ctx context.Context) (domain.DispatchReceipt, error) {
		return s.dispatcher.Dispatch(ctx, sendRequest(reminder, company.ID, reminder.ScheduledFor))
	})

	// the row is committed: record the outcome even when the batch deadline has passed
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.otelMetrics.RecordDispatch(recordCtx, "error")
		if markErr := s.markDispatchFailed(recordCtx, reminder, err); markErr != nil {
			return reminder, errors.Join(err, markErr)
		}
		return reminder, err
	}

	if err := s.applyReceipt(recordCtx, s.db, reminder, receipt, s.clock.Now().UTC()); err != nil {
		// the message is out; the reminder stays unresolved so the customer is not chased twice
		s.log.Error("consolidation.dispatch.receipt_unrecorded",
			zap.String("reminder_id", reminder.ID.String()),
			zap.String("dispatch_id", receipt.DispatchID),
			zap.Error(err),
		)
	}
	return reminder, nil
}

func (s *Service) markDispatchFailed(ctx context.Context, reminder *domain.ConsolidatedReminder, cause error) error {
	reason := cause.Error()
	updatedAt := s.clock.Now().UTC()
	ok, err := s.repo.UpdateStatus(ctx, s.db, reminder.ID, reminder.Status, domain.StatusUpdate{
		Status:    domain.ReminderStatusFailed,
		Reason:    &reason,
		UpdatedAt: updatedAt,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: reminder %s changed during dispatch", domain.ErrInvalidTransition, reminder.ID)
	}
	reminder.Status = domain.ReminderStatusFailed
	reminder.StatusReason = &reason
	reminder.UpdatedAt = updatedAt
	return nil
}

// applyReceipt records what the dispatcher did with a freshly created reminder.
func (s *Service) applyReceipt(ctx context.Context, tx *gorm.DB, reminder *domain.ConsolidatedReminder, receipt domain.DispatchReceipt, now time.Time) error {
	switch {
	case receipt.Deferred:
		// drop the claim so the due-dispatch job delivers it on time
		s.otelMetrics.RecordDispatch(ctx, "deferred")
		if err := s.repo.UpdateDispatch(ctx, tx, reminder.ID, "", now); err != nil {
			return err
		}
		reminder.DispatchID = nil
		return nil
	case receipt.Delivered:
		s.otelMetrics.RecordDispatch(ctx, "delivered")
		update := domain.StatusUpdate{
			Status:        domain.ReminderStatusSent,
			SentAt:        &now,
			ContactedAt:   &now,
			UpdatedAt:     now,
			ClearSchedule: true,
		}
		if receipt.DispatchID != "" {
			update.DispatchID = &receipt.DispatchID
		}
		ok, err := s.repo.UpdateStatus(ctx, tx, reminder.ID, reminder.Status, update)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reminder %s changed during dispatch", domain.ErrInvalidTransition, reminder.ID)
		}
		reminder.Status = domain.ReminderStatusSent
		reminder.ScheduledFor = nil
		reminder.SentAt = &now
		reminder.ContactedAt = &now
		if update.DispatchID != nil {
			reminder.DispatchID = update.DispatchID
		}
		return nil
	default:
		// accepted without an id: the claim stays so nothing delivers it again
		s.otelMetrics.RecordDispatch(ctx, "accepted")
		if receipt.DispatchID == "" {
			return nil
		}
		if err := s.repo.UpdateDispatch(ctx, tx, reminder.ID, receipt.DispatchID, now); err != nil {
			return err
		}
		dispatchID := receipt.DispatchID
		reminder.DispatchID = &dispatchID
		return nil
	}
}

func (s *Service) newReminder(
	company *domain.CompanySettings,
	rules domain.Rules,
	candidate domain.ConsolidationCandidate,
	rendered domain.RenderedMessage,
	sendAt *time.Time,
	now time.Time,
	trigger string,
	req domain.SendConsolidatedRequest,
) *domain.ConsolidatedReminder {
	id := s.genID.Generate()

	contactAt := now
	status := domain.ReminderStatusQueued
	if sendAt != nil {
		contactAt = *sendAt
		status = domain.ReminderStatusScheduled
	}
	nextEligible := contactAt.Add(time.Duration(rules.MinContactIntervalDays) * 24 * time.Hour)

	snapshot := make([]domain.ReminderInvoice, 0, len(candidate.Invoices))
	for _, inv := range candidate.Invoices {
		snapshot = append(snapshot, domain.ReminderInvoice{
			ReminderID:    id,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			Amount:        inv.Amount,
			Currency:      candidate.Currency,
			DueDate:       inv.DueDate.UTC(),
		})
	}

	metadata := datatypes.JSONMap{
		"trigger":                   trigger,
		"send_now":                  req.SendNow,
		"min_contact_interval_days": rules.MinContactIntervalDays,
		"max_invoices_per_reminder": rules.MaxInvoicesPerReminder,
		"base_currency":             rules.BaseCurrency,
		"total_amount_base":         candidate.TotalAmountBase.StringFixed(2),
		"oldest_invoice_age_days":   candidate.OldestInvoiceAgeDays,
		"scoring": map[string]any{
			"amount_ceiling":   rules.Scoring.AmountCeiling,
			"age_ceiling_days": rules.Scoring.AgeCeilingDays,
			"weights": map[string]float64{
				"amount":          rules.Scoring.Weights.Amount,
				"age":             rules.Scoring.Weights.Age,
				"payment_history": rules.Scoring.Weights.PaymentHistory,
				"relationship":    rules.Scoring.Weights.Relationship,
			},
		},
	}
	if req.RequestedTime != nil {
		metadata["requested_time"] = req.RequestedTime.UTC().Format(time.RFC3339)
	}

	return &domain.ConsolidatedReminder{
		ID:              id,
		CompanyID:       company.ID,
		CustomerID:      candidate.CustomerID,
		Currency:        candidate.Currency,
		TotalAmount:     candidate.TotalAmount,
		InvoiceCount:    len(snapshot),
		EscalationLevel: candidate.EscalationLevel,
		TemplateID:      rendered.TemplateID,
		Language:        candidate.Language,
		RecipientEmail:  candidate.CustomerEmail,
		Subject:         rendered.Subject,
		Body:            rendered.Body,
		PriorityScore:   candidate.PriorityScore,
		ScheduledFor:    sendAt,
		NextEligibleAt:  &nextEligible,
		Status:          status,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
		Invoices:        snapshot,
	}
}

func sendRequest(reminder *domain.ConsolidatedReminder, companyID snowflake.ID, scheduledFor *time.Time) domain.SendRequest {
	return domain.SendRequest{
		ReminderID:   reminder.ID,
		CompanyID:    companyID,
		CustomerID:   reminder.CustomerID,
		To:           reminder.RecipientEmail,
		Subject:      reminder.Subject,
		Body:         reminder.Body,
		Language:     reminder.Language,
		ScheduledFor: scheduledFor,
		Metadata: map[string]string{
			"escalation_level": string(reminder.EscalationLevel),
			"template_id":      reminder.TemplateID,
			"invoice_count":    fmt.Sprintf("%d", reminder.InvoiceCount),
		},
	}
}

func (s *Service) failedWithError(ctx context.Context, result domain.BulkResult, customerID snowflake.ID, err error) domain.BulkResult {
	reason := failureReason(ctx, err)
	if reason == domain.ReasonCollaboratorUnavailable || reason == domain.ReasonTimeout {
		s.log.Warn("consolidation.bulk.customer_failed",
			zap.String("customer_id", customerID.String()),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
	}
	return failed(result, reason, err)
}

func failureReason(ctx context.Context, err error) domain.FailureReason {
	switch {
	case db.IsDuplicateKeyErr(err), errors.Is(err, domain.ErrConflictingReminder):
		return domain.ReasonReminderAlreadyPending
	case errors.Is(err, domain.ErrQuotaExhausted):
		return domain.ReasonDailyQuotaExhausted
	case isContextErr(err), ctx.Err() != nil:
		return domain.ReasonTimeout
	default:
		return domain.ReasonCollaboratorUnavailable
	}
}

func failed(result domain.BulkResult, reason domain.FailureReason, err error) domain.BulkResult {
	result.Success = false
	result.Reason = reason
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func notAttempted(rawID string) domain.BulkResult {
	return failed(domain.BulkResult{CustomerID: rawID}, domain.ReasonNotAttemptedTimeout, nil)
}

func summarize(results []domain.BulkResult) domain.SendConsolidatedResponse {
	resp := domain.SendConsolidatedResponse{Results: results}
	var failures []string
	for _, result := range results {
		if result.Success {
			resp.Succeeded++
			continue
		}
		resp.Failed++
		failures = append(failures, describeFailure(result))
	}

	resp.Summary = fmt.Sprintf("%d of %d reminders scheduled", resp.Succeeded, len(results))
	if resp.Failed > 0 {
		resp.Summary += fmt.Sprintf("; %d failed: %s", resp.Failed, strings.Join(failures, ", "))
	}
	return resp
}

func describeFailure(result domain.BulkResult) string {
	label := result.CustomerName
	if label == "" {
		label = result.CustomerID
	}
	reason := result.Reason.Describe()
	if result.Reason == domain.ReasonContactWindowNotElapsed && result.NextEligibleAt != nil {
		reason += " until " + result.NextEligibleAt.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("%s (%s)", label, reason)
}
