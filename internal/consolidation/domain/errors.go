package domain

import "errors"

var (
	ErrInvalidInput            = errors.New("invalid_input")
	ErrInvalidCompany          = errors.New("invalid_company")
	ErrInvalidID               = errors.New("invalid_id")
	ErrNotFound                = errors.New("not_found")
	ErrNotEligible             = errors.New("not_eligible")
	ErrConflictingReminder     = errors.New("conflicting_reminder")
	ErrCollaboratorUnavailable = errors.New("collaborator_unavailable")
	ErrCapacityExceeded        = errors.New("capacity_exceeded")
	ErrQuotaExhausted          = errors.New("quota_exhausted")
	ErrInvalidTransition       = errors.New("invalid_transition")
	ErrNoValidSlot             = errors.New("no_valid_slot")
)
