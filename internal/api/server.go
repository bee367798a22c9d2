package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"rollcall/internal/session"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Registry is the slice of connection-registry behavior the API needs,
// kept local to avoid coupling to the websocket implementation.
type Registry interface {
	Stats() map[string]int
}

// Server is the HTTP surface: the session-start trigger, class CRUD and
// read-only attendance reporting. No coordinator logic lives here; handlers
// translate HTTP to component calls and JSON responses.
type Server struct {
	sessions *session.Manager
	store    interfaces.Store
	registry Registry
	verifier interfaces.TokenVerifier
	validate *validator.Validate
	router   *http.ServeMux
}

// NewServer creates the API server and sets up routing.
func NewServer(sessions *session.Manager, store interfaces.Store, registry Registry, verifier interfaces.TokenVerifier) *Server {
	s := &Server{
		sessions: sessions,
		store:    store,
		registry: registry,
		verifier: verifier,
		validate: validator.New(),
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/attendance/start", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.startAttendance)))))
	s.router.Handle("/api/attendance/class/", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.classAttendance)))))
	s.router.Handle("/api/classes", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleClasses)))))
	s.router.Handle("/api/classes/", s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(http.HandlerFunc(s.handleClassByID)))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware

type contextKey string

const identityKey contextKey = "identity"

// authMiddleware verifies the bearer credential and stores the resulting
// identity on the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			s.sendError(w, "Unauthorized, token missing or invalid", http.StatusUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(token)
		if err != nil {
			s.sendError(w, "Unauthorized, token missing or invalid", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestIdentity(r *http.Request) types.Identity {
	identity, _ := r.Context().Value(identityKey).(types.Identity)
	return identity
}

// Request/response types.

type StartAttendanceRequest struct {
	ClassID string `json:"classId" validate:"required"`
}

type StartAttendanceResponse struct {
	ClassID   string    `json:"classId"`
	StartedAt time.Time `json:"startedAt"`
}

type CreateClassRequest struct {
	Name       string   `json:"name" validate:"required,min=1,max=200"`
	StudentIDs []string `json:"studentIds" validate:"dive,min=1,max=50"`
}

type ClassAttendanceResponse struct {
	ClassID   string                        `json:"classId"`
	ClassName string                        `json:"className"`
	Records   []types.AttendanceReportEntry `json:"records"`
	Summary   types.Summary                 `json:"summary"`
}

type MyAttendanceResponse struct {
	ClassID string  `json:"classId"`
	Status  *string `json:"status"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// POST /api/attendance/start is the session-start trigger. Teacher-only;
// ownership and single-session checks live in the session manager.
func (s *Server) startAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartAttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, "classId is required", http.StatusBadRequest)
		return
	}

	started, err := s.sessions.Start(r.Context(), req.ClassID, requestIdentity(r))
	if err != nil {
		s.sendComponentError(w, err)
		return
	}

	s.sendData(w, http.StatusOK, StartAttendanceResponse{
		ClassID:   started.ClassID,
		StartedAt: started.StartedAt,
	})
}

// GET /api/attendance/class/{id} returns the attendance report. Owning teacher only.
func (s *Server) classAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	classID := strings.TrimPrefix(r.URL.Path, "/api/attendance/class/")
	if classID == "" || strings.Contains(classID, "/") {
		s.sendError(w, "Class ID required", http.StatusBadRequest)
		return
	}

	identity := requestIdentity(r)
	if identity.Role != types.RoleTeacher {
		s.sendError(w, "Forbidden, teacher access required", http.StatusForbidden)
		return
	}

	class, err := s.store.GetClassByID(r.Context(), classID)
	if err != nil {
		s.sendComponentError(w, err)
		return
	}
	if class.TeacherID != identity.UserID {
		s.sendError(w, "Forbidden, not class teacher", http.StatusForbidden)
		return
	}

	records, err := s.store.GetAttendanceForClass(r.Context(), classID)
	if err != nil {
		s.sendComponentError(w, err)
		return
	}

	var summary types.Summary
	for _, record := range records {
		switch record.Status {
		case types.StatusPresent:
			summary.Present++
		case types.StatusAbsent:
			summary.Absent++
		}
	}
	summary.Total = summary.Present + summary.Absent

	s.sendData(w, http.StatusOK, ClassAttendanceResponse{
		ClassID:   class.ID,
		ClassName: class.Name,
		Records:   records,
		Summary:   summary,
	})
}

// /api/classes: POST creates a class (teacher-only), GET lists the
// caller's classes: owned ones for teachers, enrolled ones for students.
func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createClass(w, r)
	case http.MethodGet:
		s.listClasses(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createClass(w http.ResponseWriter, r *http.Request) {
	identity := requestIdentity(r)
	if identity.Role != types.RoleTeacher {
		s.sendError(w, "Forbidden, teacher access required", http.StatusForbidden)
		return
	}

	var req CreateClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.sendError(w, "name must be 1-200 characters", http.StatusBadRequest)
		return
	}

	class := &types.Class{
		ID:         uuid.New().String(),
		Name:       req.Name,
		TeacherID:  identity.UserID,
		StudentIDs: req.StudentIDs,
	}
	if err := s.store.CreateClass(r.Context(), class); err != nil {
		s.sendComponentError(w, err)
		return
	}

	s.sendData(w, http.StatusCreated, class)
}

func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	identity := requestIdentity(r)

	var (
		classes []types.ClassInfo
		err     error
	)
	if identity.Role == types.RoleTeacher {
		classes, err = s.store.ListClassesForTeacher(r.Context(), identity.UserID)
	} else {
		classes, err = s.store.ListClassesForStudent(r.Context(), identity.UserID)
	}
	if err != nil {
		s.sendComponentError(w, err)
		return
	}

	s.sendData(w, http.StatusOK, types.MyClassesData{Classes: classes})
}

// GET /api/classes/{id}/my-attendance returns a student's own durable record.
func (s *Server) handleClassByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/classes/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "my-attendance" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	classID := parts[0]
	identity := requestIdentity(r)
	if identity.Role != types.RoleStudent {
		s.sendError(w, "Forbidden, student access required", http.StatusForbidden)
		return
	}

	class, err := s.store.GetClassByID(r.Context(), classID)
	if err != nil {
		s.sendComponentError(w, err)
		return
	}

	enrolled := false
	for _, studentID := range class.StudentIDs {
		if studentID == identity.UserID {
			enrolled = true
			break
		}
	}
	if !enrolled {
		s.sendError(w, "Forbidden, not enrolled in class", http.StatusForbidden)
		return
	}

	response := MyAttendanceResponse{ClassID: classID}
	record, err := s.store.GetAttendanceRecord(r.Context(), classID, identity.UserID)
	switch {
	case err == nil:
		response.Status = &record.Status
	case errors.Is(err, interfaces.ErrRecordNotFound):
		// No record yet; status stays null.
	default:
		s.sendComponentError(w, err)
		return
	}

	s.sendData(w, http.StatusOK, response)
}

// GET /health reports liveness with store connectivity and connection counts.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Database:    "connected",
		Connections: s.registry.Stats(),
	}

	status := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	s.sendJSON(w, status, response)
}

// Response helpers. The envelope is {success, data} on success and
// {success, error} on failure.

type successResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) sendData(w http.ResponseWriter, status int, data interface{}) {
	s.sendJSON(w, status, successResponse{Success: true, Data: data})
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, status, errorResponse{Success: false, Error: message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendComponentError translates component sentinels into HTTP statuses.
func (s *Server) sendComponentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrClassNotFound):
		s.sendError(w, "Class not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrUserNotFound):
		s.sendError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, session.ErrNotClassTeacher):
		s.sendError(w, "Forbidden, not class teacher", http.StatusForbidden)
	case errors.Is(err, session.ErrSessionActive):
		s.sendError(w, "An attendance session is already active", http.StatusConflict)
	case errors.Is(err, session.ErrFinalizeInProgress):
		s.sendError(w, "Session finalization already in progress", http.StatusConflict)
	default:
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}
