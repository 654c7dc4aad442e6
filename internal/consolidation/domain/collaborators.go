package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStore returns only active invoices whose due date is before asOf.
type InvoiceStore interface {
	ListOverdueInvoices(ctx context.Context, companyID snowflake.ID, asOf time.Time) ([]OverdueInvoice, error)
	ListCustomerOverdueInvoices(ctx context.Context, companyID, customerID snowflake.ID, asOf time.Time) ([]OverdueInvoice, error)
}

type CustomerDirectory interface {
	GetCompany(ctx context.Context, companyID snowflake.ID) (*CompanySettings, error)
	GetCustomers(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]CustomerProfile, error)
	ListAutoSendCompanies(ctx context.Context) ([]CompanySettings, error)
}

// ContactHistory returns the latest contact over consolidated and individual reminders.
type ContactHistory interface {
	LastContact(ctx context.Context, companyID, customerID snowflake.ID) (*time.Time, error)
}

// ReminderRepository persists consolidated reminders. Every call takes the
// handle to run on so callers can scope work to a transaction.
type ReminderRepository interface {
	Insert(ctx context.Context, db *gorm.DB, reminder *ConsolidatedReminder) error
	HasUnresolved(ctx context.Context, db *gorm.DB, companyID, customerID snowflake.ID) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ConsolidatedReminder, error)
	ListInvoices(ctx context.Context, db *gorm.DB, reminderID snowflake.ID) ([]ReminderInvoice, error)
	UpdateDispatch(ctx context.Context, db *gorm.DB, id snowflake.ID, dispatchID string, updatedAt time.Time) error
	// ClaimDispatch marks a due reminder as taken so only one worker delivers it.
	ClaimDispatch(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, updatedAt time.Time) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from ReminderStatus, update StatusUpdate) (bool, error)
	ListDueUndispatched(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]ConsolidatedReminder, error)
}

// StatusUpdate carries the fields written on a status transition. Nil pointers are left untouched.
type StatusUpdate struct {
	Status      ReminderStatus
	Reason      *string
	SentAt      *time.Time
	ContactedAt *time.Time
	DispatchID  *string
	UpdatedAt   time.Time

	// ClearSchedule drops scheduled_for once the reminder has actually gone out.
	ClearSchedule bool
}

type BusinessCalendar interface {
	// NextValidSlot returns t when it is sendable, otherwise the earliest later sendable instant.
	NextValidSlot(ctx context.Context, t time.Time) (time.Time, error)
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type SendRequest struct {
	ReminderID   snowflake.ID
	CompanyID    snowflake.ID
	CustomerID   snowflake.ID
	To           string
	Subject      string
	Body         string
	Language     string
	ScheduledFor *time.Time
	Attachments  []Attachment
	Metadata     map[string]string
}

// DispatchReceipt acknowledges a hand-off. Deferred means the dispatcher
// accepted nothing yet and the reminder must be delivered once due.
// Delivered means the message already left synchronously.
type DispatchReceipt struct {
	DispatchID string
	Deferred   bool
	Delivered  bool
	AcceptedAt time.Time
}

type EmailDispatcher interface {
	Dispatch(ctx context.Context, req SendRequest) (DispatchReceipt, error)
}

type RenderRequest struct {
	Level       EscalationLevel
	Language    string
	CompanyName string
	Candidate   ConsolidationCandidate
}

type RenderedMessage struct {
	TemplateID string
	Subject    string
	Body       string
}

type TemplateRenderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderedMessage, error)
}

type CurrencyConverter interface {
	ToBase(ctx context.Context, amount decimal.Decimal, from, base string) (decimal.Decimal, error)
}

// SendQuota is a per-company daily send counter shared by all instances.
// limit <= 0 means unlimited.
type SendQuota interface {
	Acquire(ctx context.Context, companyID snowflake.ID, at time.Time, limit int) (bool, error)
	Release(ctx context.Context, companyID snowflake.ID, at time.Time) error
}
