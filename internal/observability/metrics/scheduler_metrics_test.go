package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/ratelimit"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("auto send: %w", context.DeadlineExceeded), want: SchedulerJobReasonDeadlineExceeded},
		{name: "lock_held", err: ratelimit.ErrLockHeld, want: SchedulerJobReasonLockHeld},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "collaborator", err: fmt.Errorf("%w: invoice store", domain.ErrCollaboratorUnavailable), want: SchedulerJobReasonCollaboratorUnavailable},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetrics_JobErrorsAndBatches(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "reminder", Environment: "test"})

	m.IncJobRun("dispatch_due")
	m.ObserveJobDuration("dispatch_due", 150*time.Millisecond)
	m.AddBatchProcessed("dispatch_due", "reminders", 3)
	m.IncJobError("dispatch_due", context.DeadlineExceeded)

	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("dispatch_due", "reminders")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobTimeouts.WithLabelValues("dispatch_due")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("dispatch_due", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
}

func TestConsolidationMetrics_Counts(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewConsolidationMetricsForTest(registry)

	m.IncBulkResult(true, "")
	m.IncBulkResult(false, "daily_quota_exhausted")
	m.IncBulkResult(false, "daily_quota_exhausted")
	m.IncDeliveryStatus("bounced")

	if got := testutil.ToFloat64(m.bulkResults.WithLabelValues(OutcomeFailed, "daily_quota_exhausted")); got != 2 {
		t.Fatalf("expected 2 quota failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveryStatuses.WithLabelValues("bounced")); got != 1 {
		t.Fatalf("expected 1 bounce, got %v", got)
	}
}
