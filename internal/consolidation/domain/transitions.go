package domain

import "fmt"

type DeliveryStatus string

const (
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusBounced DeliveryStatus = "bounced"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusSent, DeliveryStatusFailed, DeliveryStatusBounced:
		return true
	}
	return false
}

var allowedTransitions = map[ReminderStatus][]ReminderStatus{
	ReminderStatusQueued:    {ReminderStatusScheduled, ReminderStatusSent, ReminderStatusFailed},
	ReminderStatusScheduled: {ReminderStatusSent, ReminderStatusFailed},
	ReminderStatusSent:      {ReminderStatusFailed},
}

// CanTransition reports whether from may move to to. Staying put is always allowed.
func CanTransition(from, to ReminderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatus resolves a delivery report against the current status.
// noop is true when the report repeats the current state.
func NextStatus(current ReminderStatus, event DeliveryStatus) (next ReminderStatus, noop bool, err error) {
	switch event {
	case DeliveryStatusSent:
		next = ReminderStatusSent
	case DeliveryStatusFailed:
		// a delivered reminder only fails through a bounce
		if current == ReminderStatusSent {
			return current, false, fmt.Errorf("%w: %s -> failed requires a bounce", ErrInvalidTransition, current)
		}
		next = ReminderStatusFailed
	case DeliveryStatusBounced:
		next = ReminderStatusFailed
	default:
		return current, false, fmt.Errorf("%w: unknown delivery status %q", ErrInvalidInput, event)
	}

	if current == next {
		return current, true, nil
	}
	if !CanTransition(current, next) {
		return current, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return next, false, nil
}
