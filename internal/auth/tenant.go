package auth

import (
	"context"
	"database/sql"
	"errors"

	studentsrepo "schoolfees-cloud/internal/students/infrastructure/postgres"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// AccountTenantChecker validates student account tenant ownership.
type AccountTenantChecker interface {
	EnsureAccountTenant(ctx context.Context, tenantID, accountID string) error
}

// AccountChecker checks account ownership using the student directory.
type AccountChecker struct {
	repo *studentsrepo.StudentRepository
}

// NewAccountChecker constructs an AccountChecker.
func NewAccountChecker(db *sql.DB) *AccountChecker {
	if db == nil {
		return nil
	}
	return &AccountChecker{repo: studentsrepo.NewStudentRepository(db)}
}

// EnsureAccountTenant verifies the account belongs to the tenant.
func (c *AccountChecker) EnsureAccountTenant(ctx context.Context, tenantID, accountID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if tenantID == "" || accountID == "" {
		return nil
	}
	student, err := c.repo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if student == nil {
		return ErrNotFound
	}
	if student.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
