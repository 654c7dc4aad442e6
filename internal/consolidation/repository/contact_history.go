package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"gorm.io/gorm"
)

type contactHistory struct {
	db *gorm.DB
}

func NewContactHistory(db *gorm.DB) domain.ContactHistory {
	return &contactHistory{db: db}
}

type contactRow struct {
	ContactedAt *time.Time
}

type pendingRow struct {
	ScheduledFor *time.Time
	CreatedAt    *time.Time
}

// LastContact takes the latest of confirmed consolidated reminders, an
// unresolved consolidated reminder (its planned send time, else its creation
// time) and individual reminders sent outside the engine.
func (h *contactHistory) LastContact(ctx context.Context, companyID, customerID snowflake.ID) (*time.Time, error) {
	var consolidated contactRow
	if err := h.db.WithContext(ctx).Raw(
		`SELECT contacted_at
		 FROM consolidated_reminders
		 WHERE company_id = ? AND customer_id = ? AND contacted_at IS NOT NULL
		 ORDER BY contacted_at DESC
		 LIMIT 1`,
		companyID,
		customerID,
	).Scan(&consolidated).Error; err != nil {
		return nil, err
	}

	var pending pendingRow
	if err := h.db.WithContext(ctx).Raw(
		`SELECT scheduled_for, created_at
		 FROM consolidated_reminders
		 WHERE company_id = ? AND customer_id = ? AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		companyID,
		customerID,
		domain.ReminderStatusQueued,
		domain.ReminderStatusScheduled,
	).Scan(&pending).Error; err != nil {
		return nil, err
	}
	planned := pending.ScheduledFor
	if planned == nil {
		planned = pending.CreatedAt
	}

	var individual contactRow
	if err := h.db.WithContext(ctx).Raw(
		`SELECT sent_at AS contacted_at
		 FROM individual_reminders
		 WHERE company_id = ? AND customer_id = ? AND sent_at IS NOT NULL
		 ORDER BY sent_at DESC
		 LIMIT 1`,
		companyID,
		customerID,
	).Scan(&individual).Error; err != nil {
		return nil, err
	}

	return latest(latest(consolidated.ContactedAt, planned), individual.ContactedAt), nil
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		t := b.UTC()
		return &t
	case b == nil || !b.After(*a):
		t := a.UTC()
		return &t
	default:
		t := b.UTC()
		return &t
	}
}
