package companycontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// CompanyContextKey is the request context key for the active company ID.
type CompanyContextKey struct{}

// WithCompanyID stores the company ID in the context.
func WithCompanyID(ctx context.Context, companyID int64) context.Context {
	return context.WithValue(ctx, CompanyContextKey{}, companyID)
}

// CompanyIDFromContext returns the company ID from context, if set.
func CompanyIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	switch typed := ctx.Value(CompanyContextKey{}).(type) {
	case int64:
		return snowflake.ID(typed), typed != 0
	case snowflake.ID:
		return typed, typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil && parsed != 0 {
			return parsed, true
		}
	}
	return 0, false
}
