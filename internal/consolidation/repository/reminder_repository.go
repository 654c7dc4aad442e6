package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reminderColumns = `id, company_id, customer_id, currency, total_amount, invoice_count,
	escalation_level, template_id, language, recipient_email, subject, body,
	priority_score, scheduled_for, sent_at, contacted_at, next_eligible_at,
	status, status_reason, dispatch_id, metadata, created_at, updated_at`

type reminderRepo struct{}

func NewReminderRepository() domain.ReminderRepository {
	return &reminderRepo{}
}

// Insert writes the reminder and its invoice snapshot. Callers run it inside a
// transaction; snapshot rows are never updated afterwards.
func (r *reminderRepo) Insert(ctx context.Context, db *gorm.DB, reminder *domain.ConsolidatedReminder) error {
	metadata := reminder.Metadata
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	if err := db.WithContext(ctx).Exec(
		`INSERT INTO consolidated_reminders (`+reminderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reminder.ID,
		reminder.CompanyID,
		reminder.CustomerID,
		reminder.Currency,
		reminder.TotalAmount,
		reminder.InvoiceCount,
		reminder.EscalationLevel,
		reminder.TemplateID,
		reminder.Language,
		reminder.RecipientEmail,
		reminder.Subject,
		reminder.Body,
		reminder.PriorityScore,
		reminder.ScheduledFor,
		reminder.SentAt,
		reminder.ContactedAt,
		reminder.NextEligibleAt,
		reminder.Status,
		reminder.StatusReason,
		reminder.DispatchID,
		metadata,
		reminder.CreatedAt,
		reminder.UpdatedAt,
	).Error; err != nil {
		return err
	}

	for _, inv := range reminder.Invoices {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO consolidated_reminder_invoices (reminder_id, invoice_id, invoice_number, amount, currency, due_date)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			reminder.ID,
			inv.InvoiceID,
			inv.InvoiceNumber,
			inv.Amount,
			inv.Currency,
			inv.DueDate,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *reminderRepo) HasUnresolved(ctx context.Context, db *gorm.DB, companyID, customerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM consolidated_reminders
		 WHERE company_id = ? AND customer_id = ? AND status IN (?, ?)`,
		companyID,
		customerID,
		domain.ReminderStatusQueued,
		domain.ReminderStatusScheduled,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *reminderRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ConsolidatedReminder, error) {
	var reminder domain.ConsolidatedReminder
	err := db.WithContext(ctx).Raw(
		`SELECT `+reminderColumns+` FROM consolidated_reminders WHERE id = ?`,
		id,
	).Scan(&reminder).Error
	if err != nil {
		return nil, err
	}
	if reminder.ID == 0 {
		return nil, nil
	}
	return &reminder, nil
}

func (r *reminderRepo) ListInvoices(ctx context.Context, db *gorm.DB, reminderID snowflake.ID) ([]domain.ReminderInvoice, error) {
	var invoices []domain.ReminderInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT reminder_id, invoice_id, invoice_number, amount, currency, due_date
		 FROM consolidated_reminder_invoices
		 WHERE reminder_id = ?
		 ORDER BY due_date ASC, invoice_id ASC`,
		reminderID,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// UpdateDispatch stores the dispatch id; an empty id clears it.
func (r *reminderRepo) UpdateDispatch(ctx context.Context, db *gorm.DB, id snowflake.ID, dispatchID string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE consolidated_reminders
		 SET dispatch_id = NULLIF(CAST(? AS TEXT), ''), updated_at = ?
		 WHERE id = ?`,
		dispatchID,
		updatedAt,
		id,
	).Error
}

func (r *reminderRepo) ClaimDispatch(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, updatedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE consolidated_reminders
		 SET dispatch_id = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND COALESCE(dispatch_id, '') = ''`,
		token,
		updatedAt,
		id,
		domain.ReminderStatusScheduled,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateStatus moves a reminder out of from. It reports false when the row
// was no longer in that status.
func (r *reminderRepo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.ReminderStatus, update domain.StatusUpdate) (bool, error) {
	clearSchedule := 0
	if update.ClearSchedule {
		clearSchedule = 1
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE consolidated_reminders
		 SET status = ?,
		     status_reason = COALESCE(?, status_reason),
		     sent_at = COALESCE(?, sent_at),
		     contacted_at = COALESCE(?, contacted_at),
		     dispatch_id = COALESCE(?, dispatch_id),
		     scheduled_for = CASE WHEN ? = 1 THEN NULL ELSE scheduled_for END,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		update.Status,
		update.Reason,
		update.SentAt,
		update.ContactedAt,
		update.DispatchID,
		clearSchedule,
		update.UpdatedAt,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *reminderRepo) ListDueUndispatched(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]domain.ConsolidatedReminder, error) {
	if limit <= 0 {
		limit = 50
	}
	var reminders []domain.ConsolidatedReminder
	err := db.WithContext(ctx).Raw(
		`SELECT `+reminderColumns+`
		 FROM consolidated_reminders
		 WHERE status = ? AND COALESCE(dispatch_id, '') = '' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC, id ASC
		 LIMIT ?`,
		domain.ReminderStatusScheduled,
		asOf.UTC(),
		limit,
	).Scan(&reminders).Error
	if err != nil {
		return nil, err
	}
	return reminders, nil
}
