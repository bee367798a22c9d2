package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// phase is the session lifecycle state. Exactly one session exists
// system-wide, so the phase is process-global state owned by the Manager.
type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseFinalizing
)

// PendingClearer drops all pending join requests for a class. Satisfied by
// the join workflow; finalization clears the queue unconditionally.
type PendingClearer interface {
	Clear(classID string)
}

// Manager owns the single active attendance session and its in-memory
// attendance map. Every mutation goes through the Manager's mutex; the
// check-and-set transitions (idle->active, active->finalizing->idle) are
// atomic under it. Store calls never run while the lock is held, so other
// connections stay responsive during finalization.
type Manager struct {
	store   interfaces.Store
	pending PendingClearer

	mu      sync.Mutex
	phase   phase
	current *types.Session
}

// NewManager creates a session manager. pending may be nil in tests that
// exercise only the session lifecycle.
func NewManager(store interfaces.Store, pending PendingClearer) *Manager {
	return &Manager{
		store:   store,
		pending: pending,
	}
}

// Start transitions idle -> active for the given class. Only the owning
// teacher may start; a second start while any session exists fails and
// leaves the original untouched.
func (m *Manager) Start(ctx context.Context, classID string, requester types.Identity) (*types.Session, error) {
	if requester.Role != types.RoleTeacher {
		return nil, ErrNotClassTeacher
	}

	// Ownership check against the durable roster happens before the state
	// transition so the lock is never held across a store call.
	class, err := m.store.GetClassByID(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != requester.UserID {
		return nil, ErrNotClassTeacher
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != phaseIdle {
		return nil, ErrSessionActive
	}

	m.phase = phaseActive
	m.current = &types.Session{
		ClassID:    classID,
		StartedAt:  time.Now(),
		Attendance: make(map[string]string),
	}

	log.Printf("Attendance session started: class=%s teacher=%s", classID, requester.UserID)

	snapshot := *m.current
	return &snapshot, nil
}

// Mark records a student's status in the active session. Marking is an
// idempotent overwrite: the last write wins. No roster-membership check is
// performed here.
func (m *Manager) Mark(studentID, status string, requester types.Identity) error {
	if requester.Role != types.RoleTeacher {
		return ErrTeacherOnly
	}
	if !types.IsValidStatus(status) {
		return types.ErrInvalidStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseIdle:
		return ErrNoActiveSession
	case phaseFinalizing:
		return ErrFinalizeInProgress
	}

	m.current.Attendance[studentID] = status
	return nil
}

// Summarize counts explicit marks so far. Unmarked enrolled students are
// not counted; total is present+absent, a snapshot of marked-so-far.
func (m *Manager) Summarize() (types.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseIdle:
		return types.Summary{}, ErrNoActiveSession
	case phaseFinalizing:
		return types.Summary{}, ErrFinalizeInProgress
	}

	return summarize(m.current.Attendance), nil
}

// MyStatus returns a student's status in the active session, or the
// unmarked sentinel if the student has no entry yet.
func (m *Manager) MyStatus(studentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseIdle:
		return "", ErrNoActiveSession
	case phaseFinalizing:
		return "", ErrFinalizeInProgress
	}

	status, ok := m.current.Attendance[studentID]
	if !ok {
		return types.StatusUnmarked, nil
	}
	return status, nil
}

// Current reports the live session for SESSION_INFO and handler checks.
// A finalizing session still reports as active; it has not ended yet.
func (m *Manager) Current() (classID string, startedAt time.Time, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == phaseIdle {
		return "", time.Time{}, false
	}
	return m.current.ClassID, m.current.StartedAt, true
}

// AcceptingJoins reports whether join requests for the class may still
// enter the pending queue. Only an active session accepts; once finalize
// has claimed the session the queue is about to be cleared, so requests
// arriving from then on are refused.
func (m *Manager) AcceptingJoins(classID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.phase == phaseActive && m.current.ClassID == classID
}

// Finalize reconciles the session into durable records and ends it:
// every enrolled student missing from the attendance map is backfilled as
// absent, one record per entry is upserted, pending join requests for the
// class are cleared, and the session transitions back to idle.
//
// The active -> finalizing transition is the atomic guard: a second
// finalize (or a mark, or a start) fails while one is in flight. If the
// roster fetch or any upsert fails the session reverts to active with all
// in-memory marks intact, so the teacher can retry; upserts are idempotent
// so a retry re-running completed writes is harmless.
func (m *Manager) Finalize(ctx context.Context, requester types.Identity) (types.Summary, error) {
	if requester.Role != types.RoleTeacher {
		return types.Summary{}, ErrTeacherOnly
	}

	m.mu.Lock()
	switch m.phase {
	case phaseIdle:
		m.mu.Unlock()
		return types.Summary{}, ErrNoActiveSession
	case phaseFinalizing:
		m.mu.Unlock()
		return types.Summary{}, ErrFinalizeInProgress
	}
	m.phase = phaseFinalizing
	session := m.current
	m.mu.Unlock()

	// Only this goroutine touches the session while finalizing; every
	// other mutator is rejected at the phase check above.

	class, err := m.store.GetClassByID(ctx, session.ClassID)
	if err != nil {
		m.revertToActive()
		return types.Summary{}, err
	}

	for _, studentID := range class.StudentIDs {
		if _, marked := session.Attendance[studentID]; !marked {
			session.Attendance[studentID] = types.StatusAbsent
		}
	}

	for studentID, status := range session.Attendance {
		if err := m.store.UpsertAttendanceRecord(ctx, session.ClassID, studentID, status); err != nil {
			m.revertToActive()
			return types.Summary{}, fmt.Errorf("failed to persist attendance: %w", err)
		}
	}

	summary := summarize(session.Attendance)

	if m.pending != nil {
		m.pending.Clear(session.ClassID)
	}

	m.mu.Lock()
	m.phase = phaseIdle
	m.current = nil
	m.mu.Unlock()

	log.Printf("Attendance session finalized: class=%s present=%d absent=%d",
		class.ID, summary.Present, summary.Absent)

	return summary, nil
}

// revertToActive puts a failed finalization back into the active phase so
// the teacher can retry without losing in-memory marks.
func (m *Manager) revertToActive() {
	m.mu.Lock()
	m.phase = phaseActive
	m.mu.Unlock()
}

func summarize(attendance map[string]string) types.Summary {
	var summary types.Summary
	for _, status := range attendance {
		switch status {
		case types.StatusPresent:
			summary.Present++
		case types.StatusAbsent:
			summary.Absent++
		}
	}
	summary.Total = summary.Present + summary.Absent
	return summary
}
