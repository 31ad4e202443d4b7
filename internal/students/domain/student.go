package students

import (
	"context"
	"errors"
	"time"
)

// Student statuses.
const (
	StatusActive = "active"
	StatusLeft   = "left"
)

// Student represents an enrolled student in the directory.
type Student struct {
	ID            string
	TenantID      string
	FullName      string
	ClassLevel    string
	GuardianPhone string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks student invariants.
func (s Student) Validate() error {
	if s.ID == "" {
		return errors.New("student: empty id")
	}
	if s.TenantID == "" {
		return errors.New("student: empty tenant id")
	}
	if s.FullName == "" {
		return errors.New("student: empty full name")
	}
	if s.ClassLevel == "" {
		return errors.New("student: empty class level")
	}
	switch s.Status {
	case StatusActive, StatusLeft:
	default:
		return errors.New("student: invalid status")
	}
	return nil
}

// Repository manages student persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Student, error)
	Save(ctx context.Context, student *Student) error
	ListByClass(ctx context.Context, tenantID, classLevel string) ([]Student, error)
}
