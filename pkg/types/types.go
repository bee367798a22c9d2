package types

import (
	"encoding/json"
	"time"
)

// Roles carried by verified credentials. Every connection and API request
// acts as exactly one of these.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Attendance statuses stored in the session map and in durable records.
// StatusUnmarked is never persisted; it is the sentinel reported to a
// student who has not been marked yet.
const (
	StatusPresent  = "present"
	StatusAbsent   = "absent"
	StatusUnmarked = "not yet updated"
)

// Inbound envelope events.
const (
	EventJoinRequest        = "JOIN_REQUEST"
	EventApproveJoin        = "APPROVE_JOIN"
	EventRejectJoin         = "REJECT_JOIN"
	EventGetPendingRequests = "GET_PENDING_REQUESTS"
	EventGetMyClasses       = "GET_MY_CLASSES"
	EventAttendanceMarked   = "ATTENDANCE_MARKED"
	EventTodaySummary       = "TODAY_SUMMARY"
	EventMyAttendance       = "MY_ATTENDANCE"
	EventDone               = "DONE"
)

// Outbound envelope events. ATTENDANCE_MARKED and TODAY_SUMMARY double as
// their broadcast counterparts.
const (
	EventSessionInfo     = "SESSION_INFO"
	EventError           = "ERROR"
	EventJoinResponse    = "JOIN_RESPONSE"
	EventNewJoinRequest  = "NEW_JOIN_REQUEST"
	EventJoinApproved    = "JOIN_APPROVED"
	EventJoinRejected    = "JOIN_REJECTED"
	EventStudentAdded    = "STUDENT_ADDED"
	EventPendingRequests = "PENDING_REQUESTS"
	EventMyClasses       = "MY_CLASSES"
)

// Join request outcomes reported in JOIN_RESPONSE.
const (
	JoinStatusPending         = "pending"
	JoinStatusAlreadyEnrolled = "already_enrolled"
)

// Envelope is the uniform inbound message shape. Data decoding is deferred
// to the handler that owns the event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is the uniform outbound message shape.
type Outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ErrorEnvelope builds the ERROR envelope sent back to an initiator.
func ErrorEnvelope(message string) Outbound {
	return Outbound{Event: EventError, Data: ErrorData{Message: message}}
}

// Identity is the result of verifying a credential: who is acting, and as what.
type Identity struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Session is the ephemeral record of one in-progress attendance-taking event.
// At most one exists system-wide; it lives only between start and finalize
// and is never persisted.
type Session struct {
	ClassID    string            `json:"classId"`
	StartedAt  time.Time         `json:"startedAt"`
	Attendance map[string]string `json:"attendance"` // studentID -> status
}

// Class is the durable class record with its roster.
type Class struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	TeacherID  string   `json:"teacherId"`
	StudentIDs []string `json:"studentIds"`
}

// ClassInfo is the roster-free projection used in class listings.
type ClassInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is the durable account record, consumed read-only here.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AttendanceRecord is the durable outcome of a finalized session,
// unique per (classId, studentId).
type AttendanceRecord struct {
	ClassID   string `json:"classId"`
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
}

// AttendanceReportEntry is one row of a class attendance report,
// joined with student identity for display.
type AttendanceReportEntry struct {
	StudentID    string `json:"studentId"`
	StudentName  string `json:"studentName"`
	StudentEmail string `json:"studentEmail"`
	Status       string `json:"status"`
}

// PendingJoinRequest is a student's unresolved ask to be added to a class
// roster during an active session.
type PendingJoinRequest struct {
	StudentID    string `json:"studentId"`
	StudentName  string `json:"studentName"`
	StudentEmail string `json:"studentEmail"`
}

// Summary counts explicit marks in the active session. Total is
// present+absent, not roster size.
type Summary struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Total   int `json:"total"`
}

// Outbound envelope payloads.

type SessionInfoData struct {
	Active    bool       `json:"active"`
	ClassID   string     `json:"classId,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type JoinResponseData struct {
	Status  string `json:"status"`
	ClassID string `json:"classId"`
}

type StudentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type NewJoinRequestData struct {
	ClassID string      `json:"classId"`
	Student StudentInfo `json:"student"`
}

type JoinApprovedData struct {
	ClassID   string `json:"classId"`
	ClassName string `json:"className"`
}

type JoinRejectedData struct {
	ClassID string `json:"classId"`
}

type StudentAddedData struct {
	StudentID string `json:"studentId"`
	ClassID   string `json:"classId"`
}

type PendingRequestsData struct {
	Requests []PendingJoinRequest `json:"requests"`
}

type MyClassesData struct {
	Classes []ClassInfo `json:"classes"`
}

type AttendanceMarkedData struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
}

type MyAttendanceData struct {
	Status string `json:"status"`
}

type DoneData struct {
	Message string `json:"message"`
	Present int    `json:"present"`
	Absent  int    `json:"absent"`
	Total   int    `json:"total"`
}
