// Package controlplane serves the course administration API: policy
// reads for visitors and members, policy writes for admins, and
// deletion for owners.
package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coursegate/coursegate/internal/access"
	"github.com/coursegate/coursegate/internal/auth"
	"github.com/coursegate/coursegate/internal/course"
	"github.com/coursegate/coursegate/internal/domain"
)

// CoursesHandler serves /api/course and /api/courses.
type CoursesHandler struct {
	store course.Store
}

// NewCoursesHandler creates the handler.
func NewCoursesHandler(store course.Store) *CoursesHandler {
	return &CoursesHandler{store: store}
}

// Levels is the per-method access map for /api/course: reads are open
// to anyone with course access (anonymous for public courses),
// updates need admin, deletion needs the owner.
func (h *CoursesHandler) Levels() domain.MethodLevels {
	return domain.MethodLevels{
		http.MethodGet:    domain.LevelAny,
		http.MethodPost:   domain.LevelAdmin,
		http.MethodDelete: domain.LevelOwner,
	}
}

// policyView is the read shape of a course policy. Member lists are
// only included for admins and owners.
type policyView struct {
	CourseName           string   `json:"courseName"`
	OwnerEmail           string   `json:"ownerEmail"`
	IsPrivate            bool     `json:"isPrivate"`
	AllowAnyLoggedInUser bool     `json:"allowAnyLoggedInUser"`
	AdminEmails          []string `json:"adminEmails,omitempty"`
	ApprovedEmails       []string `json:"approvedEmails,omitempty"`
}

// HandleCourse dispatches GET/POST/DELETE /api/course. The gate's
// per-method middleware has already authorized the caller.
func (h *CoursesHandler) HandleCourse(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		access.WriteError(w, domain.ErrUnauthenticated())
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getCourse(w, ac)
	case http.MethodPost:
		h.updateCourse(w, r, ac)
	case http.MethodDelete:
		h.deleteCourse(w, r, ac)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *CoursesHandler) getCourse(w http.ResponseWriter, ac *access.AuthContext) {
	view := policyView{
		CourseName:           ac.Course,
		OwnerEmail:           ac.Policy.OwnerEmail,
		IsPrivate:            ac.Policy.IsPrivate,
		AllowAnyLoggedInUser: ac.Policy.AllowAnyLoggedInUser,
	}
	if domain.Evaluate(ac.Identity, ac.Policy, domain.LevelAdmin) {
		view.AdminEmails = ac.Policy.AdminEmails
		view.ApprovedEmails = ac.Policy.ApprovedEmails
	}
	writeJSON(w, http.StatusOK, view)
}

// updateRequest carries the mutable policy fields. The owner is fixed
// at creation; only the owner transfer below can change it.
type updateRequest struct {
	AdminEmails          *[]string `json:"adminEmails"`
	ApprovedEmails       *[]string `json:"approvedEmails"`
	IsPrivate            *bool     `json:"isPrivate"`
	AllowAnyLoggedInUser *bool     `json:"allowAnyLoggedInUser"`
}

func (h *CoursesHandler) updateCourse(w http.ResponseWriter, r *http.Request, ac *access.AuthContext) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		access.WriteError(w, &domain.GateError{
			Type:    domain.ErrorTypeInvalidRequest,
			Message: "invalid request body",
		})
		return
	}

	policy := *ac.Policy
	if req.AdminEmails != nil {
		policy.AdminEmails = *req.AdminEmails
	}
	if req.ApprovedEmails != nil {
		policy.ApprovedEmails = *req.ApprovedEmails
	}
	if req.IsPrivate != nil {
		policy.IsPrivate = *req.IsPrivate
	}
	if req.AllowAnyLoggedInUser != nil {
		policy.AllowAnyLoggedInUser = *req.AllowAnyLoggedInUser
	}

	if err := h.store.Put(r.Context(), ac.Course, &policy); err != nil {
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to store policy"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CoursesHandler) deleteCourse(w http.ResponseWriter, r *http.Request, ac *access.AuthContext) {
	if err := h.store.Delete(r.Context(), ac.Course); err != nil {
		if errors.Is(err, course.ErrNotFound) {
			access.WriteError(w, domain.ErrTenantNotFound(ac.Course))
			return
		}
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to delete course"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createRequest is the body of POST /api/courses.
type createRequest struct {
	CourseName           string `json:"courseName"`
	IsPrivate            bool   `json:"isPrivate"`
	AllowAnyLoggedInUser bool   `json:"allowAnyLoggedInUser"`
}

// HandleCreate is POST /api/courses. Creation is not course-gated
// (there is no policy yet); it requires only an authenticated
// identity, which becomes the owner.
func (h *CoursesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	email, ok := auth.EmailFromContext(r.Context())
	if !ok {
		access.WriteError(w, domain.ErrUnauthenticated())
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourseName == "" {
		access.WriteError(w, &domain.GateError{
			Type:    domain.ErrorTypeInvalidRequest,
			Message: "courseName is required",
		})
		return
	}

	if _, err := h.store.Get(r.Context(), req.CourseName); err == nil {
		access.WriteError(w, &domain.GateError{
			Type:       domain.ErrorTypeInvalidRequest,
			Message:    "course already exists",
			StatusCode: http.StatusConflict,
		})
		return
	} else if !errors.Is(err, course.ErrNotFound) {
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "policy lookup failed"})
		return
	}

	policy := &domain.Policy{
		OwnerEmail:           email,
		IsPrivate:            req.IsPrivate,
		AllowAnyLoggedInUser: req.AllowAnyLoggedInUser,
	}
	if err := h.store.Put(r.Context(), req.CourseName, policy); err != nil {
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to store policy"})
		return
	}
	writeJSON(w, http.StatusCreated, policyView{
		CourseName:           req.CourseName,
		OwnerEmail:           email,
		IsPrivate:            req.IsPrivate,
		AllowAnyLoggedInUser: req.AllowAnyLoggedInUser,
	})
}

// HandleList is GET /api/courses: the names of all courses.
func (h *CoursesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List(r.Context())
	if err != nil {
		access.WriteError(w, &domain.GateError{Type: domain.ErrorTypeServer, Message: "failed to list courses"})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"courses": names})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
