package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"

	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	students "schoolfees-cloud/internal/students/domain"
)

// RegisterStudentRequest defines the registration payload.
type RegisterStudentRequest struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	FullName      string `json:"full_name"`
	ClassLevel    string `json:"class_level"`
	GuardianPhone string `json:"guardian_phone"`
	Status        string `json:"status"`
}

// Service handles student directory use cases.
type Service struct {
	repo        students.Repository
	tenantID    string
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewService constructs a student service.
func NewService(repo students.Repository, tenantID string, auditLogger audit.Logger, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("student service: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("student service: empty tenant id")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, tenantID: tenantID, auditLogger: auditLogger, logger: logger}, nil
}

// Register creates or updates a student record.
func (s *Service) Register(ctx context.Context, req RegisterStudentRequest) (*students.Student, error) {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = req.TenantID
	}
	if tenantID == "" {
		tenantID = s.tenantID
	}

	id := req.ID
	if id == "" {
		id = stableID("stu", tenantID+"|"+req.FullName+"|"+req.ClassLevel)
	}
	status := req.Status
	if status == "" {
		status = students.StatusActive
	}

	student := &students.Student{
		ID:            id,
		TenantID:      tenantID,
		FullName:      req.FullName,
		ClassLevel:    req.ClassLevel,
		GuardianPhone: req.GuardianPhone,
		Status:        status,
	}
	if err := s.repo.Save(ctx, student); err != nil {
		return nil, err
	}

	s.logAudit(ctx, student)
	return student, nil
}

// Get loads a student, enforcing tenant ownership.
func (s *Service) Get(ctx context.Context, id string) (*students.Student, error) {
	student, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, auth.ErrNotFound
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	if tenantID != "" && student.TenantID != tenantID {
		return nil, auth.ErrTenantMismatch
	}
	return student, nil
}

// List returns students, optionally filtered by class level.
func (s *Service) List(ctx context.Context, classLevel string) ([]students.Student, error) {
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	return s.repo.ListByClass(ctx, tenantID, classLevel)
}

func (s *Service) logAudit(ctx context.Context, student *students.Student) {
	if s.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"class_level": student.ClassLevel,
		"status":      student.Status,
	})
	err := s.auditLogger.Log(ctx, audit.Entry{
		TenantID:     student.TenantID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "student.register",
		ResourceType: "student",
		ResourceID:   student.ID,
		AccountID:    student.ID,
		Metadata:     meta,
	})
	if err != nil {
		s.logger.Printf("event=audit_log_failed action=student.register err=%v", err)
	}
}

func stableID(prefix, key string) string {
	sum := sha1.Sum([]byte(key))
	return prefix + "-" + hex.EncodeToString(sum[:8])
}
