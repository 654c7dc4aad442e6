package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleOne(t *testing.T, f *fixture) domain.BulkResult {
	t.Helper()
	f.debtor(t, 100, "Above The Clouds")
	resp, err := f.svc.SendConsolidated(f.ctx(), domain.SendConsolidatedRequest{CustomerIDs: []string{"100"}})
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success, resp.Summary)
	return resp.Results[0]
}

func TestRecordDeliveryStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	created := scheduleOne(t, f)
	dispatchID := "dsp-" + created.ReminderID
	deliveredAt := testNow.Add(6 * time.Minute)

	sent, err := f.svc.RecordDeliveryStatus(f.ctx(), domain.DeliveryStatusUpdate{
		ReminderID: created.ReminderID,
		DispatchID: dispatchID,
		Status:     domain.DeliveryStatusSent,
		OccurredAt: &deliveredAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusSent, sent.Status)
	require.NotNil(t, sent.ContactedAt)
	assert.True(t, deliveredAt.Equal(*sent.ContactedAt))
	require.NotNil(t, sent.SentAt)
	assert.True(t, deliveredAt.Equal(*sent.SentAt))
	assert.Nil(t, sent.ScheduledFor)
	assert.Len(t, sent.Invoices, 2)

	again, err := f.svc.RecordDeliveryStatus(f.ctx(), domain.DeliveryStatusUpdate{
		ReminderID: created.ReminderID,
		Status:     domain.DeliveryStatusSent,
	})
	require.NoError(t, err)
	assert.Equal(t, sent.UpdatedAt, again.UpdatedAt)

	_, err = f.svc.RecordDeliveryStatus(f.ctx(), domain.DeliveryStatusUpdate{
		ReminderID: created.ReminderID,
		Status:     domain.DeliveryStatusFailed,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	bounced, err := f.svc.RecordDeliveryStatus(f.ctx(), domain.DeliveryStatusUpdate{
		ReminderID: created.ReminderID,
		Status:     domain.DeliveryStatusBounced,
		Reason:     "550 mailbox unavailable",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusFailed, bounced.Status)
	require.NotNil(t, bounced.StatusReason)
	assert.Equal(t, "550 mailbox unavailable", *bounced.StatusReason)

	gate, err := f.svc.CanContact(context.Background(), testCompanyID, 100, 7)
	require.NoError(t, err)
	assert.False(t, gate.Eligible)
}

func TestRecordDeliveryStatus_FailedScheduledReminderFreesCustomer(t *testing.T) {
	f := newFixture(t)
	created := scheduleOne(t, f)

	failed, err := f.svc.RecordDeliveryStatus(f.ctx(), domain.DeliveryStatusUpdate{
		ReminderID: created.ReminderID,
		Status:     domain.DeliveryStatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusFailed, failed.Status)
	require.NotNil(t, failed.StatusReason)
	assert.Equal(t, "failed", *failed.StatusReason)

	resp, err := f.svc.SendConsolidated(f.ctx(), domain.SendConsolidatedRequest{CustomerIDs: []string{"100"}})
	require.NoError(t, err)
	assert.True(t, resp.Results[0].Success)
}

func TestRecordDeliveryStatus_Rejections(t *testing.T) {
	f := newFixture(t)
	created := scheduleOne(t, f)

	tests := []struct {
		name   string
		ctx    context.Context
		update domain.DeliveryStatusUpdate
		want   error
	}{
		{
			name:   "bad id",
			ctx:    f.ctx(),
			update: domain.DeliveryStatusUpdate{ReminderID: "x", Status: domain.DeliveryStatusSent},
			want:   domain.ErrInvalidID,
		},
		{
			name:   "unknown status",
			ctx:    f.ctx(),
			update: domain.DeliveryStatusUpdate{ReminderID: created.ReminderID, Status: "opened"},
			want:   domain.ErrInvalidInput,
		},
		{
			name:   "missing reminder",
			ctx:    f.ctx(),
			update: domain.DeliveryStatusUpdate{ReminderID: "12345", Status: domain.DeliveryStatusSent},
			want:   domain.ErrNotFound,
		},
		{
			name:   "other company",
			ctx:    companyCtx(2),
			update: domain.DeliveryStatusUpdate{ReminderID: created.ReminderID, Status: domain.DeliveryStatusSent},
			want:   domain.ErrNotFound,
		},
		{
			name:   "stale dispatch id",
			ctx:    f.ctx(),
			update: domain.DeliveryStatusUpdate{ReminderID: created.ReminderID, DispatchID: "other", Status: domain.DeliveryStatusSent},
			want:   domain.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordDeliveryStatus(tt.ctx, tt.update)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	reminder, err := f.svc.GetReminder(f.ctx(), created.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusScheduled, reminder.Status)
}

func TestDispatchDue_DeliversDeferredReminders(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.setHandle(smtpLike(f.clock))
	created := scheduleOne(t, f)

	reminder, err := f.svc.GetReminder(f.ctx(), created.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusScheduled, reminder.Status)
	assert.Nil(t, reminder.DispatchID)

	n, err := f.svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(10 * time.Minute)
	n, err = f.svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reminder, err = f.svc.GetReminder(f.ctx(), created.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusSent, reminder.Status)
	assert.Nil(t, reminder.ScheduledFor)
	require.NotNil(t, reminder.ContactedAt)
	assert.True(t, testNow.Add(10*time.Minute).Equal(*reminder.ContactedAt))
	require.NotNil(t, reminder.DispatchID)
	assert.Equal(t, "smtp-"+created.ReminderID, *reminder.DispatchID)

	n, err = f.svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	sent := f.dispatcher.sent()
	require.Len(t, sent, 2)
	assert.Nil(t, sent[1].ScheduledFor)
}

func TestDispatchDue_MarksFailedSends(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.setHandle(smtpLike(f.clock))
	created := scheduleOne(t, f)

	f.dispatcher.setHandle(func(context.Context, domain.SendRequest) (domain.DispatchReceipt, error) {
		return domain.DispatchReceipt{}, errors.New("dial tcp: connection refused")
	})
	f.clock.Advance(time.Hour)

	n, err := f.svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	reminder, err := f.svc.GetReminder(f.ctx(), created.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReminderStatusFailed, reminder.Status)
	require.NotNil(t, reminder.StatusReason)
	assert.Contains(t, *reminder.StatusReason, "connection refused")
}

func TestGetReminder_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetReminder(f.ctx(), "777")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.GetReminder(f.ctx(), "-1")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
