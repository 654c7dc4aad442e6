package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/reminder/internal/clock"
	consolidationdomain "github.com/smallbiznis/reminder/internal/consolidation/domain"
	obsmetrics "github.com/smallbiznis/reminder/internal/observability/metrics"
	"github.com/smallbiznis/reminder/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeConsolidation struct {
	consolidationdomain.Service

	mu          sync.Mutex
	autoSend    func(ctx context.Context, companyID snowflake.ID) (consolidationdomain.SendConsolidatedResponse, error)
	dispatchDue func(ctx context.Context, limit int) (int, error)
	autoCalls   []snowflake.ID
	dueCalls    int
}

func (f *fakeConsolidation) AutoSend(ctx context.Context, companyID snowflake.ID) (consolidationdomain.SendConsolidatedResponse, error) {
	f.mu.Lock()
	f.autoCalls = append(f.autoCalls, companyID)
	f.mu.Unlock()
	if f.autoSend == nil {
		return consolidationdomain.SendConsolidatedResponse{}, nil
	}
	return f.autoSend(ctx, companyID)
}

func (f *fakeConsolidation) DispatchDue(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	f.dueCalls++
	f.mu.Unlock()
	if f.dispatchDue == nil {
		return 0, nil
	}
	return f.dispatchDue(ctx, limit)
}

type fakeDirectory struct {
	consolidationdomain.CustomerDirectory
	companies []consolidationdomain.CompanySettings
	err       error
}

func (f *fakeDirectory) ListAutoSendCompanies(context.Context) ([]consolidationdomain.CompanySettings, error) {
	return f.companies, f.err
}

func newTestScheduler(t *testing.T, svc *fakeConsolidation, dir *fakeDirectory, locker *ratelimit.Locker, registry *prometheus.Registry, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2025, 10, 29, 6, 0, 0, 0, time.UTC)),
		Consolidation: svc,
		Directory:     dir,
		Locker:        locker,
		Metrics:       obsmetrics.NewSchedulerMetricsForTest(registry),
		Config:        cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, &fakeConsolidation{}, &fakeDirectory{}, nil, registry, Config{})

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "reminder",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "reminder_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "reminder",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "reminder_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestAutoSendJobSkipsLockedAndOptedOutCompanies(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if err := srv.Set(ratelimit.AutoSendLockKey(2), "other-instance"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	svc := &fakeConsolidation{
		autoSend: func(_ context.Context, companyID snowflake.ID) (consolidationdomain.SendConsolidatedResponse, error) {
			if companyID == 3 {
				return consolidationdomain.SendConsolidatedResponse{}, fmt.Errorf("%w: auto send disabled", consolidationdomain.ErrNotEligible)
			}
			return consolidationdomain.SendConsolidatedResponse{
				Results:   make([]consolidationdomain.BulkResult, 3),
				Succeeded: 2,
				Failed:    1,
				Summary:   "2 of 3 reminders scheduled",
			}, nil
		},
	}
	dir := &fakeDirectory{companies: []consolidationdomain.CompanySettings{{ID: 1}, {ID: 2}, {ID: 3}}}
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, svc, dir, ratelimit.NewLocker(client), registry, Config{})

	if err := s.runAutoSend(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(svc.autoCalls) != 2 || svc.autoCalls[0] != 1 || svc.autoCalls[1] != 3 {
		t.Fatalf("expected auto send for companies 1 and 3, got %v", svc.autoCalls)
	}
	if srv.Exists(ratelimit.AutoSendLockKey(1)) {
		t.Fatalf("expected lock for company 1 to be released")
	}

	labels := map[string]string{"service": "reminder", "env": "test", "job": JobAutoSend, "resource": "reminders"}
	if got := getCounterValue(t, registry, "reminder_scheduler_batch_processed_total", labels); got != 2 {
		t.Fatalf("expected 2 processed reminders, got %v", got)
	}
}

func TestAutoSendJobReportsCompanyFailures(t *testing.T) {
	boom := errors.New("database is locked")
	svc := &fakeConsolidation{
		autoSend: func(_ context.Context, companyID snowflake.ID) (consolidationdomain.SendConsolidatedResponse, error) {
			if companyID == 1 {
				return consolidationdomain.SendConsolidatedResponse{}, boom
			}
			return consolidationdomain.SendConsolidatedResponse{}, nil
		},
	}
	dir := &fakeDirectory{companies: []consolidationdomain.CompanySettings{{ID: 1}, {ID: 2}}}
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, svc, dir, nil, registry, Config{})

	err := s.runAutoSend(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped company error, got %v", err)
	}
	if len(svc.autoCalls) != 2 {
		t.Fatalf("expected every company to be attempted, got %v", svc.autoCalls)
	}

	labels := map[string]string{"service": "reminder", "env": "test", "job": JobAutoSend, "reason": obsmetrics.SchedulerJobReasonUnknown}
	if got := getCounterValue(t, registry, "reminder_scheduler_job_errors_total", labels); got != 1 {
		t.Fatalf("expected 1 job error, got %v", got)
	}
}

func TestDispatchDueJobDrainsFullBatches(t *testing.T) {
	returns := []int{2, 2, 1}
	svc := &fakeConsolidation{}
	svc.dispatchDue = func(_ context.Context, limit int) (int, error) {
		if limit != 2 {
			t.Errorf("expected limit 2, got %d", limit)
		}
		n := returns[0]
		returns = returns[1:]
		return n, nil
	}
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, svc, &fakeDirectory{}, nil, registry, Config{DispatchBatchSize: 2})

	if err := s.runDispatchDue(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if svc.dueCalls != 3 {
		t.Fatalf("expected 3 batches, got %d", svc.dueCalls)
	}
	labels := map[string]string{"service": "reminder", "env": "test", "job": JobDispatchDue, "resource": "reminders"}
	if got := getCounterValue(t, registry, "reminder_scheduler_batch_processed_total", labels); got != 5 {
		t.Fatalf("expected 5 processed reminders, got %v", got)
	}
}

func TestDispatchDueJobStopsOnError(t *testing.T) {
	svc := &fakeConsolidation{
		dispatchDue: func(context.Context, int) (int, error) {
			return 0, fmt.Errorf("%w: email_dispatch", consolidationdomain.ErrCollaboratorUnavailable)
		},
	}
	registry := prometheus.NewRegistry()
	s := newTestScheduler(t, svc, &fakeDirectory{}, nil, registry, Config{})

	err := s.runDispatchDue(context.Background())
	if !errors.Is(err, consolidationdomain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	if svc.dueCalls != 1 {
		t.Fatalf("expected a single batch, got %d", svc.dueCalls)
	}
	labels := map[string]string{"service": "reminder", "env": "test", "job": JobDispatchDue, "reason": obsmetrics.SchedulerJobReasonCollaboratorUnavailable}
	if got := getCounterValue(t, registry, "reminder_scheduler_job_errors_total", labels); got != 1 {
		t.Fatalf("expected 1 job error, got %v", got)
	}
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	svc := &fakeConsolidation{}
	dir := &fakeDirectory{companies: []consolidationdomain.CompanySettings{{ID: 1}}}
	s := newTestScheduler(t, svc, dir, nil, prometheus.NewRegistry(), Config{EnabledJobs: []string{"DISPATCH_DUE"}})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if svc.dueCalls != 1 {
		t.Fatalf("expected dispatch_due to run once, got %d", svc.dueCalls)
	}
	if len(svc.autoCalls) != 0 {
		t.Fatalf("expected auto_send to be skipped, got %v", svc.autoCalls)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := newTestScheduler(t, &fakeConsolidation{}, &fakeDirectory{}, nil, prometheus.NewRegistry(), Config{AutoSendSchedule: "every half hour"})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{AutoSendTimeout: 20 * time.Minute}.withDefaults()
	if cfg.DispatchBatchSize != 50 {
		t.Fatalf("expected default batch size, got %d", cfg.DispatchBatchSize)
	}
	if cfg.AutoSendLockTTL != 40*time.Minute {
		t.Fatalf("expected lock ttl to cover the job timeout, got %s", cfg.AutoSendLockTTL)
	}
	if cfg.DispatchDueSchedule != "0 * * * * *" {
		t.Fatalf("unexpected dispatch schedule %q", cfg.DispatchDueSchedule)
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
