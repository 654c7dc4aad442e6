package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleTime(t *testing.T) {
	f := newFixture(t)
	candidate := domain.ConsolidationCandidate{CustomerID: 100}

	at := func(s string) *time.Time {
		v, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return &v
	}

	tests := []struct {
		name      string
		requested *time.Time
		want      time.Time
	}{
		{
			name: "default delay inside business hours",
			want: testNow.Add(5 * time.Minute),
		},
		{
			name:      "valid request kept",
			requested: at("2025-10-30T11:00:00+04:00"),
			want:      *at("2025-10-30T07:00:00Z"),
		},
		{
			name:      "after close moves to next morning",
			requested: at("2025-10-29T20:00:00+04:00"),
			want:      *at("2025-10-30T05:00:00Z"),
		},
		{
			name:      "weekend moves to monday",
			requested: at("2025-11-01T10:00:00+04:00"),
			want:      *at("2025-11-03T05:00:00Z"),
		},
		{
			name:      "friday prayer skipped",
			requested: at("2025-10-31T12:30:00+04:00"),
			want:      *at("2025-10-31T10:30:00Z"),
		},
		{
			name:      "past request starts from now",
			requested: at("2025-10-29T05:00:00Z"),
			want:      testNow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ScheduleTime(context.Background(), testCompanyID, candidate, tt.requested)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
			if tt.requested != nil {
				assert.False(t, got.Before(*tt.requested))
			}

			again, err := f.svc.ScheduleTime(context.Background(), testCompanyID, candidate, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestScheduleTime_NeverEarlierThanRequested(t *testing.T) {
	f := newFixture(t)
	f.svc.calendar = calendarFunc(func(_ context.Context, t time.Time) (time.Time, error) {
		return t.Add(-time.Hour), nil
	})

	requested := testNow.Add(48 * time.Hour)
	got, err := f.svc.ScheduleTime(context.Background(), testCompanyID, domain.ConsolidationCandidate{}, &requested)
	require.NoError(t, err)
	assert.Equal(t, requested, got)
}

func TestScheduleTime_CalendarErrors(t *testing.T) {
	f := newFixture(t)
	f.svc.calendar = calendarFunc(func(context.Context, time.Time) (time.Time, error) {
		return time.Time{}, fmt.Errorf("%w: nothing open this year", domain.ErrNoValidSlot)
	})
	_, err := f.svc.ScheduleTime(context.Background(), testCompanyID, domain.ConsolidationCandidate{}, nil)
	assert.ErrorIs(t, err, domain.ErrNoValidSlot)
	assert.NotErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	f.svc.calendar = calendarFunc(func(context.Context, time.Time) (time.Time, error) {
		return time.Time{}, fmt.Errorf("holiday feed timeout")
	})
	_, err = f.svc.ScheduleTime(context.Background(), testCompanyID, domain.ConsolidationCandidate{}, nil)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
}
