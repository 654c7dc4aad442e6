package domain

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoice(id, customer int64, currency string, amount string, dueDaysAgo int, asOf time.Time) OverdueInvoice {
	return OverdueInvoice{
		ID:            snowflake.ID(id),
		CustomerID:    snowflake.ID(customer),
		InvoiceNumber: fmt.Sprintf("INV-%d", id),
		Amount:        decimal.RequireFromString(amount),
		Currency:      currency,
		IssueDate:     asOf.AddDate(0, 0, -dueDaysAgo-30),
		DueDate:       asOf.AddDate(0, 0, -dueDaysAgo),
	}
}

func TestGroupInvoices_SplitsByCurrencyAndDropsSingles(t *testing.T) {
	asOf := time.Date(2025, 10, 29, 8, 0, 0, 0, time.UTC)
	invoices := []OverdueInvoice{
		invoice(1, 100, "AED", "1000.00", 10, asOf),
		invoice(2, 100, "AED", "2000.00", 40, asOf),
		invoice(3, 100, "USD", "500.00", 5, asOf),
		invoice(4, 100, "USD", "700.00", 6, asOf),
		invoice(5, 200, "AED", "300.00", 3, asOf),
	}

	groups, oversized := GroupInvoices(invoices, 25)
	assert.Empty(t, oversized)
	require.Len(t, groups, 2)

	assert.Equal(t, "AED", groups[0].Currency)
	assert.Equal(t, snowflake.ID(2), groups[0].Invoices[0].ID, "oldest first")
	assert.True(t, groups[0].Total().Equal(decimal.RequireFromString("3000")))
	assert.Equal(t, 40, groups[0].OldestAgeDays(asOf))

	assert.Equal(t, "USD", groups[1].Currency)
}

func TestGroupInvoices_OversizedIsNotTruncated(t *testing.T) {
	asOf := time.Date(2025, 10, 29, 8, 0, 0, 0, time.UTC)
	var invoices []OverdueInvoice
	for i := int64(1); i <= 4; i++ {
		invoices = append(invoices, invoice(i, 100, "AED", "10.00", int(i), asOf))
	}

	groups, oversized := GroupInvoices(invoices, 3)
	assert.Empty(t, groups)
	require.Len(t, oversized, 1)
	assert.Len(t, oversized[0].Invoices, 4)
}

func TestGroupInvoices_GeneratedSetsHoldInvariants(t *testing.T) {
	asOf := time.Date(2025, 10, 29, 8, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))
	currencies := []string{"AED", "USD", "EUR"}

	for round := 0; round < 50; round++ {
		n := rng.Intn(60)
		invoices := make([]OverdueInvoice, 0, n)
		for i := 0; i < n; i++ {
			invoices = append(invoices, invoice(
				int64(round*1000+i+1),
				int64(rng.Intn(8)+1),
				currencies[rng.Intn(len(currencies))],
				fmt.Sprintf("%d.%02d", rng.Intn(5000)+1, rng.Intn(100)),
				rng.Intn(90)+1,
				asOf,
			))
		}

		groups, oversized := GroupInvoices(invoices, 6)
		for _, g := range groups {
			assert.GreaterOrEqual(t, len(g.Invoices), 2)
			assert.LessOrEqual(t, len(g.Invoices), 6)
			for _, inv := range g.Invoices {
				assert.Equal(t, g.Currency, inv.Currency)
				assert.Equal(t, g.CustomerID, inv.CustomerID)
			}
			assert.True(t, g.Total().IsPositive())
		}
		for _, g := range oversized {
			assert.Greater(t, len(g.Invoices), 6)
		}
	}
}

func TestSortCandidates_Deterministic(t *testing.T) {
	candidates := []ConsolidationCandidate{
		{CustomerID: 3, Currency: "AED", PriorityScore: 50, TotalAmountBase: decimal.NewFromInt(100), TotalAmount: decimal.NewFromInt(100)},
		{CustomerID: 1, Currency: "USD", PriorityScore: 50, TotalAmountBase: decimal.NewFromInt(100), TotalAmount: decimal.NewFromInt(27)},
		{CustomerID: 1, Currency: "AED", PriorityScore: 50, TotalAmountBase: decimal.NewFromInt(100), TotalAmount: decimal.NewFromInt(100)},
		{CustomerID: 2, Currency: "AED", PriorityScore: 80, TotalAmountBase: decimal.NewFromInt(10), TotalAmount: decimal.NewFromInt(10)},
		{CustomerID: 4, Currency: "AED", PriorityScore: 50, TotalAmountBase: decimal.NewFromInt(500), TotalAmount: decimal.NewFromInt(500)},
	}
	SortCandidates(candidates)

	var order []string
	for _, c := range candidates {
		order = append(order, fmt.Sprintf("%d/%s", c.CustomerID, c.Currency))
	}
	assert.Equal(t, []string{"2/AED", "4/AED", "1/AED", "3/AED", "1/USD"}, order)
}
