package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		name    string
		current ReminderStatus
		event   DeliveryStatus
		want    ReminderStatus
		noop    bool
		wantErr error
	}{
		{"queued sent", ReminderStatusQueued, DeliveryStatusSent, ReminderStatusSent, false, nil},
		{"scheduled sent", ReminderStatusScheduled, DeliveryStatusSent, ReminderStatusSent, false, nil},
		{"scheduled failed", ReminderStatusScheduled, DeliveryStatusFailed, ReminderStatusFailed, false, nil},
		{"sent repeated", ReminderStatusSent, DeliveryStatusSent, ReminderStatusSent, true, nil},
		{"sent bounced", ReminderStatusSent, DeliveryStatusBounced, ReminderStatusFailed, false, nil},
		{"sent failed without bounce", ReminderStatusSent, DeliveryStatusFailed, ReminderStatusSent, false, ErrInvalidTransition},
		{"failed is terminal", ReminderStatusFailed, DeliveryStatusSent, ReminderStatusFailed, false, ErrInvalidTransition},
		{"failed repeated", ReminderStatusFailed, DeliveryStatusFailed, ReminderStatusFailed, true, nil},
		{"unknown event", ReminderStatusQueued, DeliveryStatus("opened"), ReminderStatusQueued, false, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, noop, err := NextStatus(tc.current, tc.event)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, tc.noop, noop)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(ReminderStatusQueued, ReminderStatusScheduled))
	assert.False(t, CanTransition(ReminderStatusScheduled, ReminderStatusQueued))
	assert.False(t, CanTransition(ReminderStatusFailed, ReminderStatusSent))
	assert.True(t, CanTransition(ReminderStatusFailed, ReminderStatusFailed))
}
