package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

var ErrUnknownCurrency = errors.New("unknown_currency")

const scale = 2

// StaticConverter converts through a table of rates quoted against a pivot
// currency. The table is replaced atomically on reload.
type StaticConverter struct {
	rates atomic.Pointer[map[string]decimal.Decimal]
}

var _ domain.CurrencyConverter = (*StaticConverter)(nil)

func NewStaticConverter(rates map[string]float64) *StaticConverter {
	c := &StaticConverter{}
	c.SetRates(rates)
	return c
}

func (c *StaticConverter) SetRates(rates map[string]float64) {
	table := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		if rate <= 0 {
			continue
		}
		table[normalize(code)] = decimal.NewFromFloat(rate)
	}
	c.rates.Store(&table)
}

func (c *StaticConverter) ToBase(ctx context.Context, amount decimal.Decimal, from, base string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	from, base = normalize(from), normalize(base)
	if from == base {
		return amount, nil
	}

	table := *c.rates.Load()
	fromRate, ok := table[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	baseRate, ok := table[base]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, base)
	}

	return amount.Mul(fromRate).DivRound(baseRate, scale), nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
