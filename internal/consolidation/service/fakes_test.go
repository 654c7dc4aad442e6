package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/reminder/internal/calendar"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/companycontext"
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/consolidation/repository"
	"github.com/smallbiznis/reminder/internal/consolidation/testdb"
	"github.com/smallbiznis/reminder/internal/currency"
	"github.com/smallbiznis/reminder/internal/observability/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// Wednesday 10:00 in Dubai.
var testNow = time.Date(2025, 10, 29, 6, 0, 0, 0, time.UTC)

const testCompanyID = snowflake.ID(1)

type fixture struct {
	db         *gorm.DB
	svc        *Service
	clock      *clock.FakeClock
	dispatcher *fakeDispatcher
	quota      *fakeQuota
	invoices   *invoiceStoreHook
	registry   *prometheus.Registry
}

type fixtureOption func(cfg *config.ConsolidationConfig)

func withConcurrency(n int) fixtureOption {
	return func(cfg *config.ConsolidationConfig) { cfg.Bulk.Concurrency = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	conn := testdb.Open(t)
	cfg := config.DefaultConsolidationConfig()
	cfg.Retry = config.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}
	holder := config.NewStaticConsolidationConfigHolder(cfg)

	cal, err := calendar.New(calendar.FromConfig(holder.Get().Calendar))
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:         conn,
		clock:      clock.NewFakeClock(testNow),
		dispatcher: &fakeDispatcher{},
		quota:      newFakeQuota(),
		invoices:   &invoiceStoreHook{InvoiceStore: repository.NewInvoiceStore(conn)},
		registry:   prometheus.NewRegistry(),
	}
	f.svc = newService(Params{
		DB:           conn,
		Log:          zaptest.NewLogger(t),
		GenID:        node,
		Clock:        f.clock,
		ConfigHolder: holder,
		Invoices:     f.invoices,
		Directory:    repository.NewCustomerDirectory(conn),
		History:      repository.NewContactHistory(conn),
		Repo:         repository.NewReminderRepository(),
		Calendar:     cal,
		Dispatcher:   f.dispatcher,
		Renderer:     fakeRenderer{},
		Converter:    currency.NewStaticConverter(holder.Get().ExchangeRates),
		Quota:        f.quota,
		Metrics:      metrics.NewConsolidationMetricsForTest(f.registry),
	})

	testdb.SeedCompany(t, conn, testdb.Company{ID: testCompanyID, Name: "Desert Rose Trading"})
	return f
}

func (f *fixture) ctx() context.Context {
	return companycontext.WithCompanyID(context.Background(), int64(testCompanyID))
}

func (f *fixture) customer(t *testing.T, id snowflake.ID, name string) {
	t.Helper()
	testdb.SeedCustomer(t, f.db, testdb.Customer{ID: id, CompanyID: testCompanyID, Name: name})
}

func (f *fixture) invoice(t *testing.T, id, customerID snowflake.ID, amount string, daysOverdue int) {
	t.Helper()
	f.invoiceIn(t, id, customerID, amount, daysOverdue, "AED")
}

func (f *fixture) invoiceIn(t *testing.T, id, customerID snowflake.ID, amount string, daysOverdue int, currency string) {
	t.Helper()
	testdb.SeedInvoice(t, f.db, testdb.Invoice{
		ID:         id,
		CompanyID:  testCompanyID,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   currency,
		DueDate:    testNow.AddDate(0, 0, -daysOverdue),
	})
}

// debtor seeds a customer with two overdue AED invoices.
func (f *fixture) debtor(t *testing.T, id snowflake.ID, name string) {
	t.Helper()
	f.customer(t, id, name)
	f.invoice(t, id*10+1, id, "1500.00", 40)
	f.invoice(t, id*10+2, id, "900.00", 20)
}

func (f *fixture) countReminders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM consolidated_reminders`).Scan(&n).Error)
	return n
}

func (f *fixture) countSnapshotRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM consolidated_reminder_invoices`).Scan(&n).Error)
	return n
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []domain.SendRequest
	handle   func(ctx context.Context, req domain.SendRequest) (domain.DispatchReceipt, error)
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, req domain.SendRequest) (domain.DispatchReceipt, error) {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()

	receipt := domain.DispatchReceipt{DispatchID: "dsp-" + req.ReminderID.String(), AcceptedAt: testNow}
	if handle != nil {
		var err error
		receipt, err = handle(ctx, req)
		if err != nil {
			return domain.DispatchReceipt{}, err
		}
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return receipt, nil
}

func (d *fakeDispatcher) setHandle(fn func(ctx context.Context, req domain.SendRequest) (domain.DispatchReceipt, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handle = fn
}

func (d *fakeDispatcher) sent() []domain.SendRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.SendRequest(nil), d.requests...)
}

// smtpLike defers future sends and delivers due ones synchronously.
func smtpLike(c clock.Clock) func(context.Context, domain.SendRequest) (domain.DispatchReceipt, error) {
	return func(_ context.Context, req domain.SendRequest) (domain.DispatchReceipt, error) {
		if req.ScheduledFor != nil && req.ScheduledFor.After(c.Now()) {
			return domain.DispatchReceipt{Deferred: true, AcceptedAt: c.Now()}, nil
		}
		return domain.DispatchReceipt{DispatchID: "smtp-" + req.ReminderID.String(), Delivered: true, AcceptedAt: c.Now()}, nil
	}
}

type fakeQuota struct {
	mu       sync.Mutex
	used     map[snowflake.ID]int
	released int
}

func newFakeQuota() *fakeQuota {
	return &fakeQuota{used: make(map[snowflake.ID]int)}
}

func (q *fakeQuota) Acquire(_ context.Context, companyID snowflake.ID, _ time.Time, limit int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 {
		return true, nil
	}
	if q.used[companyID] >= limit {
		return false, nil
	}
	q.used[companyID]++
	return true, nil
}

func (q *fakeQuota) Release(_ context.Context, companyID snowflake.ID, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used[companyID] > 0 {
		q.used[companyID]--
	}
	q.released++
	return nil
}

func (q *fakeQuota) snapshot(companyID snowflake.ID) (used, released int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used[companyID], q.released
}

type fakeRenderer struct{}

func (fakeRenderer) Render(_ context.Context, req domain.RenderRequest) (domain.RenderedMessage, error) {
	return domain.RenderedMessage{
		TemplateID: fmt.Sprintf("consolidated/%s/%s", req.Level, req.Language),
		Subject:    fmt.Sprintf("%d overdue invoices from %s", req.Candidate.InvoiceCount, req.CompanyName),
		Body:       "<p>" + req.Candidate.CustomerName + "</p>",
	}, nil
}

// invoiceStoreHook lets a test fail or stall per-customer invoice lookups.
type invoiceStoreHook struct {
	domain.InvoiceStore

	mu     sync.Mutex
	before func(ctx context.Context, customerID snowflake.ID) error
}

func (h *invoiceStoreHook) setBefore(fn func(ctx context.Context, customerID snowflake.ID) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = fn
}

func (h *invoiceStoreHook) ListCustomerOverdueInvoices(ctx context.Context, companyID, customerID snowflake.ID, asOf time.Time) ([]domain.OverdueInvoice, error) {
	h.mu.Lock()
	before := h.before
	h.mu.Unlock()
	if before != nil {
		if err := before(ctx, customerID); err != nil {
			return nil, err
		}
	}
	return h.InvoiceStore.ListCustomerOverdueInvoices(ctx, companyID, customerID, asOf)
}

type calendarFunc func(ctx context.Context, t time.Time) (time.Time, error)

func (f calendarFunc) NextValidSlot(ctx context.Context, t time.Time) (time.Time, error) {
	return f(ctx, t)
}

func companyCtx(id snowflake.ID) context.Context {
	return companycontext.WithCompanyID(context.Background(), int64(id))
}
