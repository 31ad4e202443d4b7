package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	students "schoolfees-cloud/internal/students/domain"
)

const defaultStudentsTable = "students"

// DBTX is the database/sql surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StudentRepository is a Postgres implementation for the student directory.
type StudentRepository struct {
	db    DBTX
	table string
}

// NewStudentRepository constructs a repository.
func NewStudentRepository(db DBTX, opts ...StudentOption) *StudentRepository {
	repo := &StudentRepository{db: db, table: defaultStudentsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StudentOption configures the repository.
type StudentOption func(*StudentRepository)

// WithStudentTable overrides the default table name.
func WithStudentTable(table string) StudentOption {
	return func(repo *StudentRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a student by id.
func (r *StudentRepository) Get(ctx context.Context, id string) (*students.Student, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("student repo: nil db")
	}
	if id == "" {
		return nil, errors.New("student repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, full_name, class_level, guardian_phone, status, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var student students.Student
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&student.ID,
		&student.TenantID,
		&student.FullName,
		&student.ClassLevel,
		&student.GuardianPhone,
		&student.Status,
		&student.CreatedAt,
		&student.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	student.CreatedAt = student.CreatedAt.UTC()
	student.UpdatedAt = student.UpdatedAt.UTC()
	return &student, nil
}

// Save upserts a student.
func (r *StudentRepository) Save(ctx context.Context, student *students.Student) error {
	if r == nil || r.db == nil {
		return errors.New("student repo: nil db")
	}
	if student == nil {
		return errors.New("student repo: nil student")
	}
	if err := student.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	full_name,
	class_level,
	guardian_phone,
	status
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (id)
DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	full_name = EXCLUDED.full_name,
	class_level = EXCLUDED.class_level,
	guardian_phone = EXCLUDED.guardian_phone,
	status = EXCLUDED.status,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		student.ID,
		student.TenantID,
		student.FullName,
		student.ClassLevel,
		student.GuardianPhone,
		student.Status,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	return nil
}

// ListByClass loads students of a class level for a tenant.
func (r *StudentRepository) ListByClass(ctx context.Context, tenantID, classLevel string) ([]students.Student, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("student repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("student repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, full_name, class_level, guardian_phone, status, created_at, updated_at
FROM %s
WHERE tenant_id = $1 AND ($2 = '' OR class_level = $2)
ORDER BY class_level ASC, full_name ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, tenantID, classLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []students.Student
	for rows.Next() {
		var student students.Student
		if err := rows.Scan(
			&student.ID,
			&student.TenantID,
			&student.FullName,
			&student.ClassLevel,
			&student.GuardianPhone,
			&student.Status,
			&student.CreatedAt,
			&student.UpdatedAt,
		); err != nil {
			return nil, err
		}
		student.CreatedAt = student.CreatedAt.UTC()
		student.UpdatedAt = student.UpdatedAt.UTC()
		result = append(result, student)
	}
	return result, rows.Err()
}
