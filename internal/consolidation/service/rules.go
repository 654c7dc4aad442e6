package service

import (
	"strings"

	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

// RulesFromConfig maps the loaded consolidation.yml onto the engine rules.
func RulesFromConfig(cfg config.ConsolidationConfig) domain.Rules {
	bands := make([]domain.EscalationBand, 0, len(cfg.EscalationBands))
	for _, band := range cfg.EscalationBands {
		bands = append(bands, domain.EscalationBand{
			Level:   domain.EscalationLevel(strings.ToLower(strings.TrimSpace(band.Level))),
			MinDays: band.MinDays,
		})
	}

	return domain.Rules{
		MinContactIntervalDays: cfg.MinContactIntervalDays,
		MaxInvoicesPerReminder: cfg.MaxInvoicesPerReminder,
		BaseCurrency:           cfg.BaseCurrency,
		DailySendQuota:         cfg.DailySendQuota,
		Scoring: domain.ScoringConfig{
			AmountCeiling:  cfg.Scoring.AmountCeiling,
			AgeCeilingDays: cfg.Scoring.AgeCeilingDays,
			Weights: domain.ScoringWeights{
				Amount:         cfg.Scoring.Weights.Amount,
				Age:            cfg.Scoring.Weights.Age,
				PaymentHistory: cfg.Scoring.Weights.PaymentHistory,
				Relationship:   cfg.Scoring.Weights.Relationship,
			},
		},
		EscalationBands:  bands,
		MaxBatchSize:     cfg.Bulk.MaxBatchSize,
		Concurrency:      cfg.Bulk.Concurrency,
		DefaultSendDelay: cfg.Bulk.DefaultSendDelay,
		BatchTimeout:     cfg.Bulk.BatchTimeout,
	}
}
