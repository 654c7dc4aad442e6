// Package testdb provides an in-memory sqlite schema mirroring the postgres
// migrations, for repository and service tests.
package testdb

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE companies (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		base_currency TEXT NOT NULL DEFAULT 'AED',
		min_contact_interval_days INTEGER NULL,
		daily_send_quota INTEGER NULL,
		auto_send_enabled BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY,
		company_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		on_time_payment_ratio REAL NULL,
		relationship_score REAL NULL,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		company_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		invoice_number TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		issue_date TIMESTAMP NOT NULL,
		due_date TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE individual_reminders (
		id INTEGER PRIMARY KEY,
		company_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		invoice_id INTEGER NOT NULL,
		sent_at TIMESTAMP NULL,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE consolidated_reminders (
		id INTEGER PRIMARY KEY,
		company_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		invoice_count INTEGER NOT NULL,
		escalation_level TEXT NOT NULL,
		template_id TEXT NOT NULL,
		language TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		priority_score INTEGER NOT NULL,
		scheduled_for TIMESTAMP NULL,
		sent_at TIMESTAMP NULL,
		contacted_at TIMESTAMP NULL,
		next_eligible_at TIMESTAMP NULL,
		status TEXT NOT NULL CHECK (status IN ('queued', 'scheduled', 'sent', 'failed')),
		status_reason TEXT NULL,
		dispatch_id TEXT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CHECK (NOT (scheduled_for IS NOT NULL AND sent_at IS NOT NULL))
	)`,
	`CREATE UNIQUE INDEX ux_consolidated_reminders_unresolved
		ON consolidated_reminders (company_id, customer_id)
		WHERE status IN ('queued', 'scheduled')`,
	`CREATE TABLE consolidated_reminder_invoices (
		reminder_id INTEGER NOT NULL,
		invoice_id INTEGER NOT NULL,
		invoice_number TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		due_date TIMESTAMP NOT NULL,
		PRIMARY KEY (reminder_id, invoice_id)
	)`,
}

// Open returns a private in-memory database with the reminder schema.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// the shared-cache database lives as long as one connection stays open
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

type Company struct {
	ID                     snowflake.ID
	Name                   string
	BaseCurrency           string
	MinContactIntervalDays *int
	DailySendQuota         *int
	AutoSendEnabled        bool
}

func SeedCompany(t testing.TB, db *gorm.DB, c Company) {
	t.Helper()
	if c.BaseCurrency == "" {
		c.BaseCurrency = "AED"
	}
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO companies (id, name, base_currency, min_contact_interval_days, daily_send_quota, auto_send_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.BaseCurrency, c.MinContactIntervalDays, c.DailySendQuota, c.AutoSendEnabled, now, now,
	).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}
}

type Customer struct {
	ID                 snowflake.ID
	CompanyID          snowflake.ID
	Name               string
	Email              string
	Language           string
	OnTimePaymentRatio *float64
	RelationshipScore  *float64
}

func SeedCustomer(t testing.TB, db *gorm.DB, c Customer) {
	t.Helper()
	if c.Language == "" {
		c.Language = "en"
	}
	if c.Email == "" {
		c.Email = fmt.Sprintf("billing+%d@example.ae", c.ID)
	}
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO customers (id, company_id, name, email, language, on_time_payment_ratio, relationship_score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CompanyID, c.Name, c.Email, c.Language, c.OnTimePaymentRatio, c.RelationshipScore, now, now,
	).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

type Invoice struct {
	ID            snowflake.ID
	CompanyID     snowflake.ID
	CustomerID    snowflake.ID
	InvoiceNumber string
	Amount        string
	Currency      string
	IssueDate     time.Time
	DueDate       time.Time
	Status        string
}

func SeedInvoice(t testing.TB, db *gorm.DB, inv Invoice) {
	t.Helper()
	if inv.Status == "" {
		inv.Status = "overdue"
	}
	if inv.Currency == "" {
		inv.Currency = "AED"
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = fmt.Sprintf("INV-%d", inv.ID)
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = inv.DueDate.AddDate(0, 0, -30)
	}
	amount := decimal.RequireFromString(inv.Amount)
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO invoices (id, company_id, customer_id, invoice_number, amount, currency, issue_date, due_date, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CompanyID, inv.CustomerID, inv.InvoiceNumber, amount, inv.Currency,
		inv.IssueDate.UTC(), inv.DueDate.UTC(), inv.Status, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func SeedIndividualReminder(t testing.TB, db *gorm.DB, id, companyID, customerID, invoiceID snowflake.ID, sentAt time.Time) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO individual_reminders (id, company_id, customer_id, invoice_id, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, companyID, customerID, invoiceID, sentAt.UTC(), sentAt.UTC(),
	).Error; err != nil {
		t.Fatalf("seed individual reminder: %v", err)
	}
}

// MarkInvoicePaid flips an invoice out of the collectable states.
func MarkInvoicePaid(t testing.TB, db *gorm.DB, id snowflake.ID) {
	t.Helper()
	if err := db.Exec(`UPDATE invoices SET status = 'paid', updated_at = ? WHERE id = ?`, time.Now().UTC(), id).Error; err != nil {
		t.Fatalf("mark invoice paid: %v", err)
	}
}
