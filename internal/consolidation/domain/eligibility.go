package domain

import (
	"fmt"
	"time"
)

// EvaluateEligibility applies the minimum re-contact interval to the latest contact.
// NextEligibleAt is reported whenever a prior contact exists.
func EvaluateEligibility(lastContact *time.Time, now time.Time, minIntervalDays int) (Eligibility, error) {
	if minIntervalDays < 0 {
		return Eligibility{}, fmt.Errorf("%w: negative contact interval", ErrInvalidInput)
	}

	result := Eligibility{MinIntervalDays: minIntervalDays}
	if lastContact == nil {
		result.Eligible = true
		return result, nil
	}

	last := lastContact.UTC()
	next := last.Add(time.Duration(minIntervalDays) * 24 * time.Hour)
	result.LastContactAt = &last
	result.NextEligibleAt = &next
	result.Eligible = !now.Before(next)
	return result, nil
}
