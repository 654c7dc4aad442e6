package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EscalationLevel string

const (
	EscalationPolite EscalationLevel = "polite"
	EscalationFirm   EscalationLevel = "firm"
	EscalationUrgent EscalationLevel = "urgent"
	EscalationFinal  EscalationLevel = "final"
)

type ReminderStatus string

const (
	ReminderStatusQueued    ReminderStatus = "queued"
	ReminderStatusScheduled ReminderStatus = "scheduled"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusFailed    ReminderStatus = "failed"
)

// Unresolved reports whether the reminder still blocks a new one for the same customer.
func (s ReminderStatus) Unresolved() bool {
	return s == ReminderStatusQueued || s == ReminderStatusScheduled
}

// OverdueInvoice is an unpaid invoice past its due date. Read-only to the engine.
type OverdueInvoice struct {
	ID            snowflake.ID    `json:"id"`
	CompanyID     snowflake.ID    `json:"company_id"`
	CustomerID    snowflake.ID    `json:"customer_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
}

type CustomerProfile struct {
	ID                 snowflake.ID `json:"id"`
	CompanyID          snowflake.ID `json:"company_id"`
	Name               string       `json:"name"`
	Email              string       `json:"email"`
	Language           string       `json:"language"`
	OnTimePaymentRatio *float64     `json:"on_time_payment_ratio,omitempty"`
	RelationshipScore  *float64     `json:"relationship_score,omitempty"`
}

type CompanySettings struct {
	ID                     snowflake.ID `json:"id"`
	Name                   string       `json:"name"`
	BaseCurrency           string       `json:"base_currency"`
	MinContactIntervalDays *int         `json:"min_contact_interval_days,omitempty"`
	DailySendQuota         *int         `json:"daily_send_quota,omitempty"`
	AutoSendEnabled        bool         `json:"auto_send_enabled"`
}

// ConsolidationCandidate is derived on every query and never persisted.
type ConsolidationCandidate struct {
	CustomerID           snowflake.ID     `json:"customer_id"`
	CustomerName         string           `json:"customer_name"`
	CustomerEmail        string           `json:"customer_email"`
	Language             string           `json:"language"`
	Currency             string           `json:"currency"`
	Invoices             []OverdueInvoice `json:"invoices"`
	InvoiceCount         int              `json:"invoice_count"`
	TotalAmount          decimal.Decimal  `json:"total_amount"`
	TotalAmountBase      decimal.Decimal  `json:"total_amount_base"`
	OldestInvoiceAgeDays int              `json:"oldest_invoice_age_days"`
	PriorityScore        int              `json:"priority_score"`
	EscalationLevel      EscalationLevel  `json:"escalation_level"`
	LastContactAt        *time.Time       `json:"last_contact_at,omitempty"`
	NextEligibleAt       *time.Time       `json:"next_eligible_at,omitempty"`
	CanContact           bool             `json:"can_contact"`
}

func (c ConsolidationCandidate) InvoiceIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(c.Invoices))
	for _, inv := range c.Invoices {
		ids = append(ids, inv.ID)
	}
	return ids
}

// OversizedGroup is a (customer, currency) group above the invoice cap, held for manual handling.
type OversizedGroup struct {
	CustomerID   snowflake.ID    `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Currency     string          `json:"currency"`
	InvoiceCount int             `json:"invoice_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type BuildResult struct {
	CompanyID    snowflake.ID             `json:"company_id"`
	GeneratedAt  time.Time                `json:"generated_at"`
	Candidates   []ConsolidationCandidate `json:"candidates"`
	ManualReview []OversizedGroup         `json:"manual_review"`
}

type Eligibility struct {
	CustomerID      snowflake.ID `json:"customer_id"`
	Eligible        bool         `json:"eligible"`
	LastContactAt   *time.Time   `json:"last_contact_at,omitempty"`
	NextEligibleAt  *time.Time   `json:"next_eligible_at,omitempty"`
	MinIntervalDays int          `json:"min_interval_days"`
}

// ConsolidatedReminder is the audit record of one consolidated chase. Rows are never deleted.
type ConsolidatedReminder struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	CompanyID       snowflake.ID      `gorm:"not null;index" json:"company_id"`
	CustomerID      snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Currency        string            `gorm:"not null" json:"currency"`
	TotalAmount     decimal.Decimal   `gorm:"not null" json:"total_amount"`
	InvoiceCount    int               `gorm:"not null" json:"invoice_count"`
	EscalationLevel EscalationLevel   `gorm:"not null" json:"escalation_level"`
	TemplateID      string            `gorm:"not null" json:"template_id"`
	Language        string            `gorm:"not null" json:"language"`
	RecipientEmail  string            `gorm:"not null" json:"recipient_email"`
	Subject         string            `gorm:"not null" json:"subject"`
	Body            string            `gorm:"not null" json:"-"`
	PriorityScore   int               `gorm:"not null" json:"priority_score"`
	ScheduledFor    *time.Time        `json:"scheduled_for,omitempty"`
	// SentAt is set only once delivery is confirmed, never on hand-off.
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	ContactedAt     *time.Time        `json:"contacted_at,omitempty"`
	NextEligibleAt  *time.Time        `json:"next_eligible_at,omitempty"`
	Status          ReminderStatus    `gorm:"not null" json:"status"`
	StatusReason    *string           `json:"status_reason,omitempty"`
	DispatchID      *string           `json:"dispatch_id,omitempty"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`

	Invoices []ReminderInvoice `gorm:"-" json:"invoices,omitempty"`
}

func (ConsolidatedReminder) TableName() string { return "consolidated_reminders" }

// ReminderInvoice is one row of the immutable invoice snapshot taken when a reminder is created.
type ReminderInvoice struct {
	ReminderID    snowflake.ID    `gorm:"primaryKey" json:"-"`
	InvoiceID     snowflake.ID    `gorm:"primaryKey" json:"invoice_id"`
	InvoiceNumber string          `gorm:"not null" json:"invoice_number"`
	Amount        decimal.Decimal `gorm:"not null" json:"amount"`
	Currency      string          `gorm:"not null" json:"currency"`
	DueDate       time.Time       `gorm:"not null" json:"due_date"`
}

func (ReminderInvoice) TableName() string { return "consolidated_reminder_invoices" }
