package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/consolidation/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCandidates_SingleCustomerNeverContacted(t *testing.T) {
	f := newFixture(t)
	f.customer(t, 100, "Above The Clouds")
	f.invoice(t, 1, 100, "12500.00", 45)
	f.invoice(t, 2, 100, "6122.60", 30)
	f.invoice(t, 3, 100, "4000.00", 20)
	f.customer(t, 200, "Single Invoice LLC")
	f.invoice(t, 4, 200, "99000.00", 90)

	built, err := f.svc.BuildCandidates(context.Background(), testCompanyID)
	require.NoError(t, err)
	require.Len(t, built.Candidates, 1)
	assert.Empty(t, built.ManualReview)
	assert.Equal(t, testNow, built.GeneratedAt)

	c := built.Candidates[0]
	assert.Equal(t, snowflake.ID(100), c.CustomerID)
	assert.Equal(t, "Above The Clouds", c.CustomerName)
	assert.Equal(t, "AED", c.Currency)
	assert.Equal(t, 3, c.InvoiceCount)
	assert.True(t, c.TotalAmount.Equal(decimal.RequireFromString("22622.60")), c.TotalAmount.String())
	assert.True(t, c.TotalAmountBase.Equal(c.TotalAmount))
	assert.Equal(t, 45, c.OldestInvoiceAgeDays)
	assert.Equal(t, domain.EscalationUrgent, c.EscalationLevel)
	assert.True(t, c.CanContact)
	assert.Nil(t, c.LastContactAt)
	assert.Nil(t, c.NextEligibleAt)
	assert.Greater(t, c.PriorityScore, 60)
	assert.Equal(t, 74, c.PriorityScore)
	assert.Equal(t, []snowflake.ID{1, 2, 3}, c.InvoiceIDs())
}

func TestBuildCandidates_RecentContactBlocksCustomer(t *testing.T) {
	f := newFixture(t)
	f.customer(t, 100, "Above The Clouds")
	f.invoice(t, 1, 100, "12500.00", 45)
	f.invoice(t, 2, 100, "6122.60", 30)
	contactedAt := testNow.Add(-72 * time.Hour)
	testdb.SeedIndividualReminder(t, f.db, 9001, testCompanyID, 100, 1, contactedAt)

	built, err := f.svc.BuildCandidates(context.Background(), testCompanyID)
	require.NoError(t, err)
	require.Len(t, built.Candidates, 1)

	c := built.Candidates[0]
	assert.False(t, c.CanContact)
	require.NotNil(t, c.LastContactAt)
	require.NotNil(t, c.NextEligibleAt)
	assert.True(t, contactedAt.Equal(*c.LastContactAt))
	assert.True(t, contactedAt.Add(7*24*time.Hour).Equal(*c.NextEligibleAt))
}

func TestBuildCandidates_SplitsCurrenciesAndOrdersDeterministically(t *testing.T) {
	f := newFixture(t)
	f.customer(t, 100, "Above The Clouds")
	f.invoice(t, 1, 100, "12500.00", 45)
	f.invoice(t, 2, 100, "6122.60", 30)
	f.invoiceIn(t, 3, 100, "100.00", 10, "USD")
	f.invoiceIn(t, 4, 100, "50.00", 5, "USD")
	f.customer(t, 101, "Gulf Freight")
	f.invoice(t, 5, 101, "3000.00", 70)
	f.invoice(t, 6, 101, "2000.00", 65)
	f.customer(t, 103, "Oasis Catering")
	f.invoice(t, 7, 103, "1000.00", 20)
	f.invoice(t, 8, 103, "1000.00", 20)
	f.customer(t, 102, "Marina Prints")
	f.invoice(t, 9, 102, "1000.00", 20)
	f.invoice(t, 10, 102, "1000.00", 20)

	built, err := f.svc.BuildCandidates(context.Background(), testCompanyID)
	require.NoError(t, err)
	require.Len(t, built.Candidates, 5)

	type row struct {
		customer snowflake.ID
		currency string
		score    int
		level    domain.EscalationLevel
	}
	got := make([]row, 0, len(built.Candidates))
	for _, c := range built.Candidates {
		got = append(got, row{c.CustomerID, c.Currency, c.PriorityScore, c.EscalationLevel})
	}
	assert.Equal(t, []row{
		{100, "AED", 67, domain.EscalationUrgent},
		{101, "AED", 53, domain.EscalationFinal},
		{102, "AED", 28, domain.EscalationFirm},
		{103, "AED", 28, domain.EscalationFirm},
		{100, "USD", 21, domain.EscalationPolite},
	}, got)

	usd := built.Candidates[4]
	assert.True(t, usd.TotalAmount.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, usd.TotalAmountBase.Equal(decimal.RequireFromString("550.88")), usd.TotalAmountBase.String())
	for _, c := range built.Candidates {
		for _, inv := range c.Invoices {
			assert.Equal(t, c.Currency, inv.Currency)
		}
		assert.GreaterOrEqual(t, c.InvoiceCount, 2)
	}
}

func TestBuildCandidates_OversizedGroupsGoToManualReview(t *testing.T) {
	f := newFixture(t)
	f.customer(t, 100, "Bulk Buyer")
	for i := 0; i < 26; i++ {
		f.invoice(t, snowflake.ID(5000+i), 100, "10.00", 15+i)
	}
	f.debtor(t, 101, "Gulf Freight")

	built, err := f.svc.BuildCandidates(context.Background(), testCompanyID)
	require.NoError(t, err)
	require.Len(t, built.Candidates, 1)
	assert.Equal(t, snowflake.ID(101), built.Candidates[0].CustomerID)

	require.Len(t, built.ManualReview, 1)
	manual := built.ManualReview[0]
	assert.Equal(t, snowflake.ID(100), manual.CustomerID)
	assert.Equal(t, "Bulk Buyer", manual.CustomerName)
	assert.Equal(t, 26, manual.InvoiceCount)
	assert.True(t, manual.TotalAmount.Equal(decimal.RequireFromString("260.00")))
}

func TestBuildCandidates_UnknownCompany(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BuildCandidates(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)
}

func TestListCandidates_FiltersAndPages(t *testing.T) {
	f := newFixture(t)
	f.debtor(t, 100, "Above The Clouds")
	f.debtor(t, 101, "Gulf Freight")
	f.debtor(t, 102, "Marina Prints")
	testdb.SeedIndividualReminder(t, f.db, 9001, testCompanyID, 101, 1011, testNow.Add(-48*time.Hour))

	_, err := f.svc.ListCandidates(context.Background(), domain.ListCandidatesRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)

	_, err = f.svc.ListCandidates(f.ctx(), domain.ListCandidatesRequest{Offset: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	all, err := f.svc.ListCandidates(f.ctx(), domain.ListCandidatesRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, defaultCandidatePageSize, all.Limit)

	eligible, err := f.svc.ListCandidates(f.ctx(), domain.ListCandidatesRequest{EligibleOnly: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, eligible.Total)
	require.Len(t, eligible.Candidates, 1)
	assert.Equal(t, snowflake.ID(100), eligible.Candidates[0].CustomerID)

	next, err := f.svc.ListCandidates(f.ctx(), domain.ListCandidatesRequest{EligibleOnly: true, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, next.Candidates, 1)
	assert.Equal(t, snowflake.ID(102), next.Candidates[0].CustomerID)

	past, err := f.svc.ListCandidates(f.ctx(), domain.ListCandidatesRequest{Offset: 10})
	require.NoError(t, err)
	assert.NotNil(t, past.Candidates)
	assert.Empty(t, past.Candidates)
}

func TestCanContact_IsIdempotentAndHonoursInterval(t *testing.T) {
	f := newFixture(t)
	f.customer(t, 100, "Above The Clouds")
	contactedAt := testNow.Add(-72 * time.Hour)
	testdb.SeedIndividualReminder(t, f.db, 9001, testCompanyID, 100, 1, contactedAt)

	first, err := f.svc.CanContact(context.Background(), testCompanyID, 100, 7)
	require.NoError(t, err)
	second, err := f.svc.CanContact(context.Background(), testCompanyID, 100, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.False(t, first.Eligible)
	assert.Equal(t, snowflake.ID(100), first.CustomerID)
	require.NotNil(t, first.NextEligibleAt)
	assert.True(t, contactedAt.Add(7*24*time.Hour).Equal(*first.NextEligibleAt))

	short, err := f.svc.CanContact(context.Background(), testCompanyID, 100, 3)
	require.NoError(t, err)
	assert.True(t, short.Eligible)

	never, err := f.svc.CanContact(context.Background(), testCompanyID, 555, 7)
	require.NoError(t, err)
	assert.True(t, never.Eligible)
	assert.Nil(t, never.NextEligibleAt)

	_, err = f.svc.CanContact(context.Background(), testCompanyID, 100, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckEligibility_UsesCompanyInterval(t *testing.T) {
	f := newFixture(t)
	interval := 3
	testdb.SeedCompany(t, f.db, testdb.Company{ID: 2, Name: "Quick Chasers", MinContactIntervalDays: &interval})
	testdb.SeedCustomer(t, f.db, testdb.Customer{ID: 300, CompanyID: 2, Name: "Palm Logistics"})
	testdb.SeedIndividualReminder(t, f.db, 9001, 2, 300, 1, testNow.Add(-96*time.Hour))

	ctx := companyCtx(2)
	result, err := f.svc.CheckEligibility(ctx, "300")
	require.NoError(t, err)
	assert.True(t, result.Eligible)
	assert.Equal(t, 3, result.MinIntervalDays)

	_, err = f.svc.CheckEligibility(ctx, "not-a-number")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = f.svc.CheckEligibility(ctx, "301")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// customer of another company
	_, err = f.svc.CheckEligibility(f.ctx(), "300")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRulesFromConfig(t *testing.T) {
	cfg := config.DefaultConsolidationConfig()
	cfg.EscalationBands = []config.EscalationBand{{Level: " Polite ", MinDays: 0}, {Level: "FINAL", MinDays: 30}}

	rules := RulesFromConfig(cfg)
	assert.Equal(t, 7, rules.MinContactIntervalDays)
	assert.Equal(t, 25, rules.MaxInvoicesPerReminder)
	assert.Equal(t, 150, rules.MaxBatchSize)
	assert.Equal(t, 0.4, rules.Scoring.Weights.Amount)
	assert.Equal(t, []domain.EscalationBand{
		{Level: domain.EscalationPolite, MinDays: 0},
		{Level: domain.EscalationFinal, MinDays: 30},
	}, rules.EscalationBands)
}
