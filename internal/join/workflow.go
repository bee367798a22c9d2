package join

import (
	"context"
	"fmt"
	"log"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Notifier delivers envelopes to connected users. Satisfied by the
// connection registry; delivery is best-effort.
type Notifier interface {
	SendTo(userID string, envelope types.Outbound)
	BroadcastToRole(role string, envelope types.Outbound)
}

// SessionGate answers whether the class's session still accepts join
// requests. Satisfied by the session manager; a finalizing session has
// already committed to clearing the pending queue and must refuse.
type SessionGate interface {
	AcceptingJoins(classID string) bool
}

// Workflow arbitrates enrollment requests against the active session's
// class. Each (class, student) request moves pending -> approved/rejected;
// both outcomes are terminal for that request, but a fresh one may be
// created again later. Pending state lives only in memory and dies with
// the session.
type Workflow struct {
	store    interfaces.Store
	notifier Notifier
	pending  *queue
	gate     SessionGate
}

// NewWorkflow creates a join request workflow.
func NewWorkflow(store interfaces.Store, notifier Notifier) *Workflow {
	return &Workflow{
		store:    store,
		notifier: notifier,
		pending:  newQueue(),
	}
}

// BindSessions wires the session gate. Without one the queue accepts
// unconditionally, which only lifecycle-free tests rely on.
func (w *Workflow) BindSessions(gate SessionGate) {
	w.gate = gate
}

func (w *Workflow) accepting(classID string) bool {
	if w.gate == nil {
		return true
	}
	return w.gate.AcceptingJoins(classID)
}

// Request files a student's ask to join the class of the active session.
// An already-enrolled student gets the informational already_enrolled
// outcome instead of a pending entry. A repeated request before approval is
// deduplicated but still reports pending to the caller. New requests are
// announced to every connected teacher.
func (w *Workflow) Request(ctx context.Context, classID string, requester types.Identity) (types.JoinResponseData, error) {
	if requester.Role != types.RoleStudent {
		return types.JoinResponseData{}, ErrStudentOnly
	}

	student, err := w.store.FindUserByID(ctx, requester.UserID)
	if err != nil {
		return types.JoinResponseData{}, err
	}

	class, err := w.store.GetClassByID(ctx, classID)
	if err != nil {
		return types.JoinResponseData{}, err
	}

	for _, enrolled := range class.StudentIDs {
		if enrolled == requester.UserID {
			return types.JoinResponseData{
				Status:  types.JoinStatusAlreadyEnrolled,
				ClassID: classID,
			}, nil
		}
	}

	added, open := w.pending.add(classID, types.PendingJoinRequest{
		StudentID:    student.ID,
		StudentName:  student.Name,
		StudentEmail: student.Email,
	}, w.accepting)
	if !open {
		return types.JoinResponseData{}, ErrSessionEnded
	}
	if added {
		w.notifier.BroadcastToRole(types.RoleTeacher, types.Outbound{
			Event: types.EventNewJoinRequest,
			Data: types.NewJoinRequestData{
				ClassID: classID,
				Student: types.StudentInfo{ID: student.ID, Name: student.Name, Email: student.Email},
			},
		})
		log.Printf("Join request filed: class=%s student=%s", classID, student.ID)
	}

	return types.JoinResponseData{
		Status:  types.JoinStatusPending,
		ClassID: classID,
	}, nil
}

// Approve enrolls the student in the class and resolves the pending
// request. The roster append is idempotent, so approving twice neither
// duplicates the entry nor fails. The student is notified of the approval.
func (w *Workflow) Approve(ctx context.Context, classID, studentID string, requester types.Identity) (types.StudentAddedData, error) {
	if requester.Role != types.RoleTeacher {
		return types.StudentAddedData{}, ErrTeacherOnly
	}

	class, err := w.store.GetClassByID(ctx, classID)
	if err != nil {
		return types.StudentAddedData{}, err
	}

	if err := w.store.AppendStudentToRoster(ctx, classID, studentID); err != nil {
		return types.StudentAddedData{}, fmt.Errorf("failed to append student to roster: %w", err)
	}

	w.pending.remove(classID, studentID)

	w.notifier.SendTo(studentID, types.Outbound{
		Event: types.EventJoinApproved,
		Data:  types.JoinApprovedData{ClassID: classID, ClassName: class.Name},
	})
	log.Printf("Join request approved: class=%s student=%s teacher=%s", classID, studentID, requester.UserID)

	return types.StudentAddedData{StudentID: studentID, ClassID: classID}, nil
}

// Reject resolves the pending request without touching the roster and
// notifies the student. Rejecting an absent request is a no-op beyond the
// notification.
func (w *Workflow) Reject(classID, studentID string, requester types.Identity) error {
	if requester.Role != types.RoleTeacher {
		return ErrTeacherOnly
	}

	w.pending.remove(classID, studentID)

	w.notifier.SendTo(studentID, types.Outbound{
		Event: types.EventJoinRejected,
		Data:  types.JoinRejectedData{ClassID: classID},
	})
	log.Printf("Join request rejected: class=%s student=%s teacher=%s", classID, studentID, requester.UserID)
	return nil
}

// ListPending returns the class's pending requests in arrival order.
func (w *Workflow) ListPending(classID string, requester types.Identity) ([]types.PendingJoinRequest, error) {
	if requester.Role != types.RoleTeacher {
		return nil, ErrTeacherOnly
	}
	return w.pending.list(classID), nil
}

// Clear drops every pending request for the class. Called by session
// finalization, which ends pending requests unconditionally.
func (w *Workflow) Clear(classID string) {
	w.pending.clear(classID)
}
