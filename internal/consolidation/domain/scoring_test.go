package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScoringConfig() ScoringConfig {
	return ScoringConfig{
		AmountCeiling:  25_000,
		AgeCeilingDays: 60,
		Weights:        ScoringWeights{Amount: 0.4, Age: 0.3, PaymentHistory: 0.2, Relationship: 0.1},
	}
}

func ptr[T any](v T) *T { return &v }

func TestScore_HighAmountAndAge(t *testing.T) {
	score, err := Score(ScoreInput{
		TotalAmountBase:      decimal.RequireFromString("22622.60"),
		OldestInvoiceAgeDays: 45,
	}, testScoringConfig())
	require.NoError(t, err)
	// 0.4*90.4904 + 0.3*75 + 0.2*50 + 0.1*50 = 73.696
	assert.Equal(t, 74, score)
	assert.Greater(t, score, 60)
}

func TestScore_Bounds(t *testing.T) {
	cfg := testScoringConfig()

	low, err := Score(ScoreInput{
		TotalAmountBase:    decimal.Zero,
		OnTimePaymentRatio: ptr(1.0),
		RelationshipScore:  ptr(0.0),
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, low)

	high, err := Score(ScoreInput{
		TotalAmountBase:      decimal.NewFromInt(10_000_000),
		OldestInvoiceAgeDays: 900,
		OnTimePaymentRatio:   ptr(0.0),
		RelationshipScore:    ptr(1.0),
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 100, high)
}

func TestScore_MonotonicInAmountAndAge(t *testing.T) {
	cfg := testScoringConfig()

	prev := -1
	for amount := int64(0); amount <= 40_000; amount += 1_250 {
		score, err := Score(ScoreInput{TotalAmountBase: decimal.NewFromInt(amount), OldestInvoiceAgeDays: 20}, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev, "amount %d", amount)
		prev = score
	}

	prev = -1
	for age := 0; age <= 120; age += 3 {
		score, err := Score(ScoreInput{TotalAmountBase: decimal.NewFromInt(5_000), OldestInvoiceAgeDays: age}, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev, "age %d", age)
		prev = score
	}
}

func TestScore_RoundsHalfAwayFromZero(t *testing.T) {
	cfg := ScoringConfig{
		AmountCeiling:  100,
		AgeCeilingDays: 100,
		Weights:        ScoringWeights{Amount: 1},
	}
	score, err := Score(ScoreInput{TotalAmountBase: decimal.RequireFromString("12.5")}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 13, score)
}

func TestScore_InvalidInput(t *testing.T) {
	cfg := testScoringConfig()
	cases := map[string]ScoreInput{
		"negative amount": {TotalAmountBase: decimal.NewFromInt(-1)},
		"negative age":    {TotalAmountBase: decimal.NewFromInt(1), OldestInvoiceAgeDays: -1},
		"ratio above one": {TotalAmountBase: decimal.NewFromInt(1), OnTimePaymentRatio: ptr(1.5)},
		"negative score":  {TotalAmountBase: decimal.NewFromInt(1), RelationshipScore: ptr(-0.1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Score(in, cfg)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := Score(ScoreInput{}, ScoringConfig{AmountCeiling: 0, AgeCeilingDays: 60})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
