package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

func (s *Service) CanContact(ctx context.Context, companyID, customerID snowflake.ID, minIntervalDays int) (domain.Eligibility, error) {
	if companyID == 0 {
		return domain.Eligibility{}, domain.ErrInvalidCompany
	}
	if customerID == 0 {
		return domain.Eligibility{}, domain.ErrInvalidID
	}
	if minIntervalDays < 0 {
		return domain.Eligibility{}, fmt.Errorf("%w: negative contact interval", domain.ErrInvalidInput)
	}

	last, err := s.lastContact(ctx, companyID, customerID)
	if err != nil {
		return domain.Eligibility{}, err
	}

	result, err := domain.EvaluateEligibility(last, s.clock.Now().UTC(), minIntervalDays)
	if err != nil {
		return domain.Eligibility{}, err
	}
	result.CustomerID = customerID
	return result, nil
}

// CheckEligibility runs the gate for a customer of the company in context,
// using that company's contact interval.
func (s *Service) CheckEligibility(ctx context.Context, customerID string) (domain.Eligibility, error) {
	companyID, err := s.companyIDFromContext(ctx)
	if err != nil {
		return domain.Eligibility{}, err
	}
	id, err := parseID(customerID)
	if err != nil {
		return domain.Eligibility{}, err
	}

	company, err := s.loadCompany(ctx, companyID)
	if err != nil {
		return domain.Eligibility{}, err
	}
	profiles, err := s.loadProfiles(ctx, companyID, []snowflake.ID{id})
	if err != nil {
		return domain.Eligibility{}, err
	}
	if _, ok := profiles[id]; !ok {
		return domain.Eligibility{}, domain.ErrNotFound
	}

	return s.CanContact(ctx, companyID, id, s.rules(company).MinContactIntervalDays)
}
