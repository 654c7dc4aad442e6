package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type FailureReason string

const (
	ReasonInvalidCustomerID       FailureReason = "invalid_customer_id"
	ReasonNoLongerEligible        FailureReason = "no_longer_eligible"
	ReasonManualReviewRequired    FailureReason = "manual_review_required"
	ReasonContactWindowNotElapsed FailureReason = "contact_window_not_elapsed"
	ReasonReminderAlreadyPending  FailureReason = "reminder_already_pending"
	ReasonDailyQuotaExhausted     FailureReason = "daily_quota_exhausted"
	ReasonCollaboratorUnavailable FailureReason = "collaborator_unavailable"
	ReasonTimeout                 FailureReason = "timeout"
	ReasonNotAttemptedTimeout     FailureReason = "not_attempted_timeout"
)

// Describe returns the phrase used in bulk summaries.
func (r FailureReason) Describe() string {
	switch r {
	case ReasonInvalidCustomerID:
		return "invalid customer id"
	case ReasonNoLongerEligible:
		return "no longer eligible"
	case ReasonManualReviewRequired:
		return "too many invoices, manual review required"
	case ReasonContactWindowNotElapsed:
		return "contact window not elapsed"
	case ReasonReminderAlreadyPending:
		return "reminder already pending"
	case ReasonDailyQuotaExhausted:
		return "daily send quota exhausted"
	case ReasonCollaboratorUnavailable:
		return "service unavailable"
	case ReasonTimeout:
		return "timed out"
	case ReasonNotAttemptedTimeout:
		return "not attempted, timeout"
	default:
		return string(r)
	}
}

type ListCandidatesRequest struct {
	EligibleOnly bool
	Offset       int
	Limit        int
}

type ListCandidatesResponse struct {
	Candidates   []ConsolidationCandidate `json:"candidates"`
	ManualReview []OversizedGroup         `json:"manual_review"`
	Total        int                      `json:"total"`
	Offset       int                      `json:"offset"`
	Limit        int                      `json:"limit"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

type SendConsolidatedRequest struct {
	CustomerIDs   []string
	RequestedTime *time.Time
	// SendNow bypasses the send-time planner and hands off immediately.
	SendNow bool
	// Timeout bounds the whole batch; zero uses the configured default.
	Timeout time.Duration
}

type BulkResult struct {
	CustomerID     string         `json:"customer_id"`
	CustomerName   string         `json:"customer_name,omitempty"`
	Success        bool           `json:"success"`
	ReminderID     string         `json:"reminder_id,omitempty"`
	Status         ReminderStatus `json:"status,omitempty"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	Reason         FailureReason  `json:"reason,omitempty"`
	NextEligibleAt *time.Time     `json:"next_eligible_at,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type SendConsolidatedResponse struct {
	Results   []BulkResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Summary   string       `json:"summary"`
}

type DeliveryStatusUpdate struct {
	ReminderID string
	DispatchID string
	Status     DeliveryStatus
	Reason     string
	OccurredAt *time.Time
}

type Service interface {
	BuildCandidates(ctx context.Context, companyID snowflake.ID) (BuildResult, error)
	ListCandidates(ctx context.Context, req ListCandidatesRequest) (ListCandidatesResponse, error)
	CanContact(ctx context.Context, companyID, customerID snowflake.ID, minIntervalDays int) (Eligibility, error)
	CheckEligibility(ctx context.Context, customerID string) (Eligibility, error)
	ScheduleTime(ctx context.Context, companyID snowflake.ID, candidate ConsolidationCandidate, requested *time.Time) (time.Time, error)
	SendConsolidated(ctx context.Context, req SendConsolidatedRequest) (SendConsolidatedResponse, error)
	AutoSend(ctx context.Context, companyID snowflake.ID) (SendConsolidatedResponse, error)
	GetReminder(ctx context.Context, id string) (ConsolidatedReminder, error)
	RecordDeliveryStatus(ctx context.Context, update DeliveryStatusUpdate) (ConsolidatedReminder, error)
	DispatchDue(ctx context.Context, limit int) (int, error)
}
