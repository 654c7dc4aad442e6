package domain

import "time"

// Rules is the effective rule set for one company at evaluation time.
type Rules struct {
	MinContactIntervalDays int
	MaxInvoicesPerReminder int
	BaseCurrency           string
	DailySendQuota         int
	Scoring                ScoringConfig
	EscalationBands        []EscalationBand
	MaxBatchSize           int
	Concurrency            int
	DefaultSendDelay       time.Duration
	BatchTimeout           time.Duration
}

type ScoringConfig struct {
	AmountCeiling  float64
	AgeCeilingDays int
	Weights        ScoringWeights
}

type ScoringWeights struct {
	Amount         float64
	Age            float64
	PaymentHistory float64
	Relationship   float64
}

// EscalationBand starts at MinDays of oldest-invoice age.
type EscalationBand struct {
	Level   EscalationLevel
	MinDays int
}

// WithCompany applies per-company overrides on top of the global rules.
func (r Rules) WithCompany(company *CompanySettings) Rules {
	if company == nil {
		return r
	}
	if company.MinContactIntervalDays != nil && *company.MinContactIntervalDays >= 0 {
		r.MinContactIntervalDays = *company.MinContactIntervalDays
	}
	if company.DailySendQuota != nil && *company.DailySendQuota >= 0 {
		r.DailySendQuota = *company.DailySendQuota
	}
	if company.BaseCurrency != "" {
		r.BaseCurrency = company.BaseCurrency
	}
	return r
}
