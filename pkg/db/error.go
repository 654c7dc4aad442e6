package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique constraint violation.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"), // postgres 23505
		strings.Contains(msg, "SQLSTATE 23505"),
		strings.Contains(msg, "UNIQUE constraint failed"): // sqlite 2067
		return true
	}
	return false
}

// IsCheckViolationErr reports whether err is a CHECK constraint violation.
func IsCheckViolationErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "violates check constraint") ||
		strings.Contains(msg, "SQLSTATE 23514") ||
		strings.Contains(msg, "CHECK constraint failed")
}
