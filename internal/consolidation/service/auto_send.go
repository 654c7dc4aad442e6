package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"go.uber.org/zap"
)

// AutoSend schedules reminders for the contactable candidates of a company
// that opted in, highest priority first, up to the batch cap.
func (s *Service) AutoSend(ctx context.Context, companyID snowflake.ID) (domain.SendConsolidatedResponse, error) {
	company, err := s.loadCompany(ctx, companyID)
	if err != nil {
		return domain.SendConsolidatedResponse{}, err
	}
	if !company.AutoSendEnabled {
		return domain.SendConsolidatedResponse{}, fmt.Errorf("%w: auto-send disabled for company %s", domain.ErrNotEligible, companyID)
	}

	built, err := s.BuildCandidates(ctx, companyID)
	if err != nil {
		return domain.SendConsolidatedResponse{}, err
	}

	limit := s.rules(company).MaxBatchSize
	seen := make(map[snowflake.ID]bool)
	customerIDs := make([]string, 0, len(built.Candidates))
	for _, candidate := range built.Candidates {
		if !candidate.CanContact || seen[candidate.CustomerID] {
			continue
		}
		seen[candidate.CustomerID] = true
		customerIDs = append(customerIDs, candidate.CustomerID.String())
		if len(customerIDs) == limit {
			break
		}
	}

	if len(customerIDs) == 0 {
		s.log.Debug("consolidation.auto_send.nothing_due", zap.String("company_id", companyID.String()))
		return summarize([]domain.BulkResult{}), nil
	}
	return s.sendBatch(ctx, companyID, domain.SendConsolidatedRequest{CustomerIDs: customerIDs}, TriggerAuto)
}
