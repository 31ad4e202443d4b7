package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"schoolfees-cloud/internal/auth"
	studentsapp "schoolfees-cloud/internal/students/application"
	students "schoolfees-cloud/internal/students/domain"
)

// studentView is the JSON shape of a directory entry.
type studentView struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	FullName      string    `json:"full_name"`
	ClassLevel    string    `json:"class_level"`
	GuardianPhone string    `json:"guardian_phone,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newStudentView(student *students.Student) studentView {
	return studentView{
		ID:            student.ID,
		TenantID:      student.TenantID,
		FullName:      student.FullName,
		ClassLevel:    student.ClassLevel,
		GuardianPhone: student.GuardianPhone,
		Status:        student.Status,
		CreatedAt:     student.CreatedAt,
		UpdatedAt:     student.UpdatedAt,
	}
}

// StudentHandler handles student registry requests.
type StudentHandler struct {
	service *studentsapp.Service
}

// NewStudentHandler constructs a handler.
func NewStudentHandler(service *studentsapp.Service) (*StudentHandler, error) {
	if service == nil {
		return nil, errors.New("student handler: nil service")
	}
	return &StudentHandler{service: service}, nil
}

// ServeHTTP handles routes under /api/v1/students.
func (h *StudentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/students" {
		switch r.Method {
		case http.MethodPost:
			h.handleRegister(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if strings.HasPrefix(path, "/api/v1/students/") && r.Method == http.MethodGet {
		id := strings.TrimPrefix(path, "/api/v1/students/")
		h.handleGet(w, r, id)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *StudentHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req studentsapp.RegisterStudentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.TenantID != "" && req.TenantID != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	student, err := h.service.Register(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(newStudentView(student))
}

func (h *StudentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("class_level"))
	if err != nil {
		http.Error(w, "storage error", http.StatusServiceUnavailable)
		return
	}
	views := make([]studentView, 0, len(list))
	for i := range list {
		views = append(views, newStudentView(&list[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *StudentHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	student, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrTenantMismatch) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "storage error", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newStudentView(student))
}
