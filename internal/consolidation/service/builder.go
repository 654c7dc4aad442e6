package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultCandidatePageSize = 50
	maxCandidatePageSize     = 200
)

func (s *Service) BuildCandidates(ctx context.Context, companyID snowflake.ID) (domain.BuildResult, error) {
	ctx, span := s.tracer.Start(ctx, "consolidation.BuildCandidates")
	defer span.End()
	span.SetAttributes(attribute.Int64("company_id", companyID.Int64()))

	company, err := s.loadCompany(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.BuildResult{}, err
	}
	rules := s.rules(company)
	now := s.clock.Now().UTC()

	invoices, err := callCollaborator(ctx, s, "invoice_store", func(ctx context.Context) ([]domain.OverdueInvoice, error) {
		return s.invoices.ListOverdueInvoices(ctx, companyID, now)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.BuildResult{}, err
	}

	groups, oversized := domain.GroupInvoices(invoices, rules.MaxInvoicesPerReminder)

	customerIDs := make([]snowflake.ID, 0, len(groups)+len(oversized))
	seen := make(map[snowflake.ID]bool)
	for _, group := range append(append([]domain.InvoiceGroup{}, groups...), oversized...) {
		if !seen[group.CustomerID] {
			seen[group.CustomerID] = true
			customerIDs = append(customerIDs, group.CustomerID)
		}
	}
	profiles, err := s.loadProfiles(ctx, companyID, customerIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.BuildResult{}, err
	}

	contacts := make(map[snowflake.ID]*time.Time)
	candidates := make([]domain.ConsolidationCandidate, 0, len(groups))
	for _, group := range groups {
		last, ok := contacts[group.CustomerID]
		if !ok {
			last, err = s.lastContact(ctx, companyID, group.CustomerID)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return domain.BuildResult{}, err
			}
			contacts[group.CustomerID] = last
		}

		candidate, ok, err := s.buildCandidate(ctx, rules, group, profiles[group.CustomerID], last, now)
		if err != nil {
			return domain.BuildResult{}, err
		}
		if ok {
			candidates = append(candidates, candidate)
		}
	}
	domain.SortCandidates(candidates)

	manual := make([]domain.OversizedGroup, 0, len(oversized))
	for _, group := range oversized {
		manual = append(manual, domain.OversizedGroup{
			CustomerID:   group.CustomerID,
			CustomerName: profiles[group.CustomerID].Name,
			Currency:     group.Currency,
			InvoiceCount: len(group.Invoices),
			TotalAmount:  group.Total(),
		})
	}

	s.metrics.ObserveCandidates(len(candidates))
	s.log.Debug("consolidation.candidates.built",
		zap.String("company_id", companyID.String()),
		zap.Int("invoices", len(invoices)),
		zap.Int("candidates", len(candidates)),
		zap.Int("manual_review", len(manual)),
	)

	return domain.BuildResult{
		CompanyID:    companyID,
		GeneratedAt:  now,
		Candidates:   candidates,
		ManualReview: manual,
	}, nil
}

func (s *Service) ListCandidates(ctx context.Context, req domain.ListCandidatesRequest) (domain.ListCandidatesResponse, error) {
	companyID, err := s.companyIDFromContext(ctx)
	if err != nil {
		return domain.ListCandidatesResponse{}, err
	}
	if req.Offset < 0 || req.Limit < 0 {
		return domain.ListCandidatesResponse{}, fmt.Errorf("%w: offset and limit cannot be negative", domain.ErrInvalidInput)
	}
	limit := req.Limit
	switch {
	case limit == 0:
		limit = defaultCandidatePageSize
	case limit > maxCandidatePageSize:
		limit = maxCandidatePageSize
	}

	built, err := s.BuildCandidates(ctx, companyID)
	if err != nil {
		return domain.ListCandidatesResponse{}, err
	}

	filtered := built.Candidates
	if req.EligibleOnly {
		filtered = make([]domain.ConsolidationCandidate, 0, len(built.Candidates))
		for _, candidate := range built.Candidates {
			if candidate.CanContact {
				filtered = append(filtered, candidate)
			}
		}
	}

	page := []domain.ConsolidationCandidate{}
	if req.Offset < len(filtered) {
		end := req.Offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page = filtered[req.Offset:end]
	}

	return domain.ListCandidatesResponse{
		Candidates:   page,
		ManualReview: built.ManualReview,
		Total:        len(filtered),
		Offset:       req.Offset,
		Limit:        limit,
		GeneratedAt:  built.GeneratedAt,
	}, nil
}

// buildCandidate scores one (customer, currency) group. ok is false when the
// group does not add up to a positive amount.
func (s *Service) buildCandidate(
	ctx context.Context,
	rules domain.Rules,
	group domain.InvoiceGroup,
	profile domain.CustomerProfile,
	lastContact *time.Time,
	now time.Time,
) (domain.ConsolidationCandidate, bool, error) {
	total := group.Total()
	if !total.IsPositive() {
		s.log.Warn("consolidation.candidate.skipped",
			zap.String("customer_id", group.CustomerID.String()),
			zap.String("currency", group.Currency),
			zap.String("total", total.String()),
		)
		return domain.ConsolidationCandidate{}, false, nil
	}

	base := s.toBase(ctx, total, group.Currency, rules.BaseCurrency)
	age := group.OldestAgeDays(now)

	score, err := domain.Score(domain.ScoreInput{
		TotalAmountBase:      base,
		OldestInvoiceAgeDays: age,
		OnTimePaymentRatio:   profile.OnTimePaymentRatio,
		RelationshipScore:    profile.RelationshipScore,
	}, rules.Scoring)
	if err != nil {
		return domain.ConsolidationCandidate{}, false, err
	}

	eligibility, err := domain.EvaluateEligibility(lastContact, now, rules.MinContactIntervalDays)
	if err != nil {
		return domain.ConsolidationCandidate{}, false, err
	}

	language := profile.Language
	if language == "" {
		language = "en"
	}

	return domain.ConsolidationCandidate{
		CustomerID:           group.CustomerID,
		CustomerName:         profile.Name,
		CustomerEmail:        profile.Email,
		Language:             language,
		Currency:             group.Currency,
		Invoices:             group.Invoices,
		InvoiceCount:         len(group.Invoices),
		TotalAmount:          total,
		TotalAmountBase:      base,
		OldestInvoiceAgeDays: age,
		PriorityScore:        score,
		EscalationLevel:      domain.EscalationFor(age, rules.EscalationBands),
		LastContactAt:        eligibility.LastContactAt,
		NextEligibleAt:       eligibility.NextEligibleAt,
		CanContact:           eligibility.Eligible,
	}, true, nil
}

// toBase falls back to the unconverted amount when no rate is known.
func (s *Service) toBase(ctx context.Context, amount decimal.Decimal, from, base string) decimal.Decimal {
	if s.converter == nil {
		return amount
	}
	converted, err := s.converter.ToBase(ctx, amount, from, base)
	if err != nil {
		s.log.Warn("consolidation.currency.unconverted",
			zap.String("from", from),
			zap.String("base", base),
			zap.Error(err),
		)
		return amount
	}
	return converted
}

func (s *Service) loadProfiles(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]domain.CustomerProfile, error) {
	if len(ids) == 0 {
		return map[snowflake.ID]domain.CustomerProfile{}, nil
	}
	return callCollaborator(ctx, s, "customer_directory", func(ctx context.Context) (map[snowflake.ID]domain.CustomerProfile, error) {
		return s.directory.GetCustomers(ctx, companyID, ids)
	})
}

func (s *Service) lastContact(ctx context.Context, companyID, customerID snowflake.ID) (*time.Time, error) {
	return callCollaborator(ctx, s, "contact_history", func(ctx context.Context) (*time.Time, error) {
		return s.history.LastContact(ctx, companyID, customerID)
	})
}
