package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"gorm.io/gorm"
)

type directory struct {
	db *gorm.DB
}

func NewCustomerDirectory(db *gorm.DB) domain.CustomerDirectory {
	return &directory{db: db}
}

func (d *directory) GetCompany(ctx context.Context, companyID snowflake.ID) (*domain.CompanySettings, error) {
	var company domain.CompanySettings
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, name, base_currency, min_contact_interval_days, daily_send_quota, auto_send_enabled
		 FROM companies WHERE id = ?`,
		companyID,
	).Scan(&company).Error
	if err != nil {
		return nil, err
	}
	if company.ID == 0 {
		return nil, nil
	}
	return &company, nil
}

func (d *directory) GetCustomers(ctx context.Context, companyID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]domain.CustomerProfile, error) {
	profiles := make(map[snowflake.ID]domain.CustomerProfile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	var rows []domain.CustomerProfile
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, company_id, name, email, language, on_time_payment_ratio, relationship_score
		 FROM customers
		 WHERE company_id = ? AND id IN ?`,
		companyID,
		ids,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		profiles[row.ID] = row
	}
	return profiles, nil
}

func (d *directory) ListAutoSendCompanies(ctx context.Context) ([]domain.CompanySettings, error) {
	var companies []domain.CompanySettings
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, name, base_currency, min_contact_interval_days, daily_send_quota, auto_send_enabled
		 FROM companies
		 WHERE auto_send_enabled = ?
		 ORDER BY id ASC`,
		true,
	).Scan(&companies).Error
	if err != nil {
		return nil, err
	}
	return companies, nil
}
