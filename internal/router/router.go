package router

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"rollcall/internal/join"
	"rollcall/internal/session"
	"rollcall/internal/websocket"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Router parses inbound envelopes and dispatches them to the session
// manager and join workflow. Each event maps to exactly one handler; the
// table entry declares the role the event requires, so the rejection
// message stays event-specific. Malformed or unknown envelopes produce an
// ERROR envelope and no side effects; the connection stays open.
type Router struct {
	registry *websocket.Registry
	sessions *session.Manager
	joins    *join.Workflow
	store    interfaces.Store
	limiter  *RateLimiter
	handlers map[string]handlerEntry
}

var _ websocket.Dispatcher = (*Router)(nil)

// handlerEntry binds an event to its required role and handler.
type handlerEntry struct {
	role string
	fn   func(conn *websocket.Connection, data json.RawMessage)
}

// NewRouter creates a message router.
func NewRouter(registry *websocket.Registry, sessions *session.Manager, joins *join.Workflow, store interfaces.Store, rateLimit int) *Router {
	r := &Router{
		registry: registry,
		sessions: sessions,
		joins:    joins,
		store:    store,
		limiter:  NewRateLimiter(rateLimit),
	}

	r.handlers = map[string]handlerEntry{
		types.EventJoinRequest:        {role: types.RoleStudent, fn: r.handleJoinRequest},
		types.EventApproveJoin:        {role: types.RoleTeacher, fn: r.handleApproveJoin},
		types.EventRejectJoin:         {role: types.RoleTeacher, fn: r.handleRejectJoin},
		types.EventGetPendingRequests: {role: types.RoleTeacher, fn: r.handleGetPendingRequests},
		types.EventGetMyClasses:       {role: types.RoleStudent, fn: r.handleGetMyClasses},
		types.EventAttendanceMarked:   {role: types.RoleTeacher, fn: r.handleAttendanceMarked},
		types.EventTodaySummary:       {role: types.RoleTeacher, fn: r.handleTodaySummary},
		types.EventMyAttendance:       {role: types.RoleStudent, fn: r.handleMyAttendance},
		types.EventDone:               {role: types.RoleTeacher, fn: r.handleDone},
	}

	return r
}

// Dispatch routes one raw inbound message from an authenticated connection.
func (r *Router) Dispatch(conn *websocket.Connection, raw []byte) {
	var envelope types.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		r.replyError(conn, ErrMalformedEnvelope)
		return
	}

	if !types.IsValidEvent(envelope.Event) {
		r.replyError(conn, ErrUnknownEvent)
		return
	}

	entry, known := r.handlers[envelope.Event]
	if !known {
		r.replyError(conn, ErrUnknownEvent)
		return
	}

	if !r.limiter.Allow(conn.UserID()) {
		r.replyError(conn, ErrRateLimitExceeded)
		return
	}

	if conn.Role() != entry.role {
		if entry.role == types.RoleTeacher {
			r.sendError(conn, "Forbidden, teacher event only")
		} else {
			r.sendError(conn, "Forbidden, student event only")
		}
		return
	}

	entry.fn(conn, envelope.Data)
}

// activeClass resolves the active session's class, replying with an ERROR
// envelope when no session is live.
func (r *Router) activeClass(conn *websocket.Connection) (string, bool) {
	classID, _, active := r.sessions.Current()
	if !active {
		r.sendError(conn, "No active attendance session")
		return "", false
	}
	return classID, true
}

func (r *Router) handleJoinRequest(conn *websocket.Connection, _ json.RawMessage) {
	classID, ok := r.activeClass(conn)
	if !ok {
		return
	}

	response, err := r.joins.Request(context.Background(), classID, conn.Identity())
	if err != nil {
		r.replyError(conn, err)
		return
	}

	r.reply(conn, types.Outbound{Event: types.EventJoinResponse, Data: response})
}

// approvePayload doubles for REJECT_JOIN; both carry only the student.
type approvePayload struct {
	StudentID string `json:"studentId"`
}

func (r *Router) handleApproveJoin(conn *websocket.Connection, data json.RawMessage) {
	var payload approvePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.StudentID == "" {
		r.replyError(conn, ErrMalformedEnvelope)
		return
	}

	classID, ok := r.activeClass(conn)
	if !ok {
		return
	}

	added, err := r.joins.Approve(context.Background(), classID, payload.StudentID, conn.Identity())
	if err != nil {
		r.replyError(conn, err)
		return
	}

	r.reply(conn, types.Outbound{Event: types.EventStudentAdded, Data: added})
}

func (r *Router) handleRejectJoin(conn *websocket.Connection, data json.RawMessage) {
	var payload approvePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.StudentID == "" {
		r.replyError(conn, ErrMalformedEnvelope)
		return
	}

	classID, ok := r.activeClass(conn)
	if !ok {
		return
	}

	if err := r.joins.Reject(classID, payload.StudentID, conn.Identity()); err != nil {
		r.replyError(conn, err)
	}
}

func (r *Router) handleGetPendingRequests(conn *websocket.Connection, _ json.RawMessage) {
	// No active session means no pending requests; an empty list, not an error.
	requests := []types.PendingJoinRequest{}
	if classID, _, active := r.sessions.Current(); active {
		list, err := r.joins.ListPending(classID, conn.Identity())
		if err != nil {
			r.replyError(conn, err)
			return
		}
		requests = list
	}

	r.reply(conn, types.Outbound{
		Event: types.EventPendingRequests,
		Data:  types.PendingRequestsData{Requests: requests},
	})
}

func (r *Router) handleGetMyClasses(conn *websocket.Connection, _ json.RawMessage) {
	classes, err := r.store.ListClassesForStudent(context.Background(), conn.UserID())
	if err != nil {
		r.replyError(conn, err)
		return
	}

	r.reply(conn, types.Outbound{
		Event: types.EventMyClasses,
		Data:  types.MyClassesData{Classes: classes},
	})
}

type markPayload struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
}

func (r *Router) handleAttendanceMarked(conn *websocket.Connection, data json.RawMessage) {
	var payload markPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.StudentID == "" {
		r.replyError(conn, ErrMalformedEnvelope)
		return
	}

	if err := r.sessions.Mark(payload.StudentID, payload.Status, conn.Identity()); err != nil {
		r.replyError(conn, err)
		return
	}

	r.registry.BroadcastToAll(types.Outbound{
		Event: types.EventAttendanceMarked,
		Data:  types.AttendanceMarkedData{StudentID: payload.StudentID, Status: payload.Status},
	})
}

func (r *Router) handleTodaySummary(conn *websocket.Connection, _ json.RawMessage) {
	summary, err := r.sessions.Summarize()
	if err != nil {
		r.replyError(conn, err)
		return
	}

	r.registry.BroadcastToAll(types.Outbound{Event: types.EventTodaySummary, Data: summary})
}

func (r *Router) handleMyAttendance(conn *websocket.Connection, _ json.RawMessage) {
	status, err := r.sessions.MyStatus(conn.UserID())
	if err != nil {
		r.replyError(conn, err)
		return
	}

	r.reply(conn, types.Outbound{
		Event: types.EventMyAttendance,
		Data:  types.MyAttendanceData{Status: status},
	})
}

func (r *Router) handleDone(conn *websocket.Connection, _ json.RawMessage) {
	summary, err := r.sessions.Finalize(context.Background(), conn.Identity())
	if err != nil {
		// A persistence failure leaves the session active; the initiating
		// teacher sees the error and may retry.
		r.replyError(conn, err)
		return
	}

	r.registry.BroadcastToAll(types.Outbound{
		Event: types.EventDone,
		Data: types.DoneData{
			Message: "Attendance persisted",
			Present: summary.Present,
			Absent:  summary.Absent,
			Total:   summary.Total,
		},
	})
}

// reply unicasts to the initiating connection; best-effort like all sends.
func (r *Router) reply(conn *websocket.Connection, envelope types.Outbound) {
	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("Failed to reply to %s: %v", conn.UserID(), err)
	}
}

func (r *Router) sendError(conn *websocket.Connection, message string) {
	r.reply(conn, types.ErrorEnvelope(message))
}

// replyError maps component errors onto the wire messages clients expect.
func (r *Router) replyError(conn *websocket.Connection, err error) {
	switch {
	case errors.Is(err, ErrMalformedEnvelope):
		r.sendError(conn, "Invalid message format")
	case errors.Is(err, ErrUnknownEvent):
		r.sendError(conn, "Unknown event")
	case errors.Is(err, ErrRateLimitExceeded):
		r.sendError(conn, "Rate limit exceeded")
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, join.ErrSessionEnded):
		r.sendError(conn, "No active attendance session")
	case errors.Is(err, session.ErrFinalizeInProgress):
		r.sendError(conn, "Session finalization already in progress")
	case errors.Is(err, session.ErrSessionActive):
		r.sendError(conn, "An attendance session is already active")
	case errors.Is(err, session.ErrTeacherOnly), errors.Is(err, join.ErrTeacherOnly):
		r.sendError(conn, "Forbidden, teacher event only")
	case errors.Is(err, join.ErrStudentOnly):
		r.sendError(conn, "Forbidden, student event only")
	case errors.Is(err, interfaces.ErrClassNotFound):
		r.sendError(conn, "Class not found")
	case errors.Is(err, interfaces.ErrUserNotFound):
		r.sendError(conn, "Student not found")
	default:
		r.sendError(conn, err.Error())
	}
}
