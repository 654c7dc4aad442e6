package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reminder/internal/companycontext"
)

const (
	HeaderCompany       = "X-Company-ID"
	contextCompanyIDKey = "company_id"
)

// CompanyContext scopes the request to the company named by the upstream
// gateway. Authentication happens before this service.
func CompanyContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderCompany))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		companyID, err := snowflake.ParseString(raw)
		if err != nil || companyID <= 0 {
			AbortWithError(c, newValidationError("company_id", "invalid_company_id", "invalid company id"))
			return
		}

		c.Set(contextCompanyIDKey, companyID.String())
		c.Request = c.Request.WithContext(companycontext.WithCompanyID(c.Request.Context(), companyID.Int64()))
		c.Next()
	}
}
