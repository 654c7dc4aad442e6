package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"gorm.io/gorm"
)

// Invoices in these states are still collectable.
var activeInvoiceStatuses = []string{"sent", "overdue"}

type invoiceStore struct {
	db *gorm.DB
}

func NewInvoiceStore(db *gorm.DB) domain.InvoiceStore {
	return &invoiceStore{db: db}
}

func (s *invoiceStore) ListOverdueInvoices(ctx context.Context, companyID snowflake.ID, asOf time.Time) ([]domain.OverdueInvoice, error) {
	var invoices []domain.OverdueInvoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, company_id, customer_id, invoice_number, amount, currency, issue_date, due_date
		 FROM invoices
		 WHERE company_id = ? AND status IN ? AND due_date < ?
		 ORDER BY customer_id ASC, due_date ASC, id ASC`,
		companyID,
		activeInvoiceStatuses,
		asOf.UTC(),
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *invoiceStore) ListCustomerOverdueInvoices(ctx context.Context, companyID, customerID snowflake.ID, asOf time.Time) ([]domain.OverdueInvoice, error) {
	var invoices []domain.OverdueInvoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, company_id, customer_id, invoice_number, amount, currency, issue_date, due_date
		 FROM invoices
		 WHERE company_id = ? AND customer_id = ? AND status IN ? AND due_date < ?
		 ORDER BY due_date ASC, id ASC`,
		companyID,
		customerID,
		activeInvoiceStatuses,
		asOf.UTC(),
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
