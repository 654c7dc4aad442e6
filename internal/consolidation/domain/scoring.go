package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const neutralScore = 0.5

type ScoreInput struct {
	TotalAmountBase      decimal.Decimal
	OldestInvoiceAgeDays int
	OnTimePaymentRatio   *float64
	RelationshipScore    *float64
}

// Score computes a 0-100 collection priority as a weighted sum of normalised
// amount, age, payment history and relationship components.
func Score(in ScoreInput, cfg ScoringConfig) (int, error) {
	if cfg.AmountCeiling <= 0 || cfg.AgeCeilingDays <= 0 {
		return 0, fmt.Errorf("%w: scoring ceilings must be positive", ErrInvalidInput)
	}
	if in.TotalAmountBase.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	if in.OldestInvoiceAgeDays < 0 {
		return 0, fmt.Errorf("%w: negative age", ErrInvalidInput)
	}

	ratio, err := unitValue(in.OnTimePaymentRatio, "on-time payment ratio")
	if err != nil {
		return 0, err
	}
	relationship, err := unitValue(in.RelationshipScore, "relationship score")
	if err != nil {
		return 0, err
	}

	amount := math.Min(in.TotalAmountBase.InexactFloat64()/cfg.AmountCeiling*100, 100)
	age := math.Min(float64(in.OldestInvoiceAgeDays)/float64(cfg.AgeCeilingDays)*100, 100)
	history := (1 - ratio) * 100

	w := cfg.Weights
	total := w.Amount*amount + w.Age*age + w.PaymentHistory*history + w.Relationship*relationship*100

	score := int(math.Round(total))
	switch {
	case score < 0:
		return 0, nil
	case score > 100:
		return 100, nil
	}
	return score, nil
}

func unitValue(v *float64, name string) (float64, error) {
	if v == nil {
		return neutralScore, nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return 0, fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidInput, name)
	}
	return *v, nil
}
