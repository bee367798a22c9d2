package join

import (
	"sync"

	"rollcall/pkg/types"
)

// queue holds pending join requests keyed by class. Each class's requests
// form an ordered, deduplicated collection: insertion order is preserved
// for display, uniqueness is by student ID.
type queue struct {
	mu      sync.Mutex
	byClass map[string][]types.PendingJoinRequest
}

func newQueue() *queue {
	return &queue{
		byClass: make(map[string][]types.PendingJoinRequest),
	}
}

// add appends a request for the class when accepting reports the class
// open. The check runs under the queue lock, the same lock clear takes:
// once the session phase has moved past active, a request still in flight
// cannot trail a clear with a stale insert. Returns (added, open).
func (q *queue) add(classID string, request types.PendingJoinRequest, accepting func(classID string) bool) (bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if accepting != nil && !accepting(classID) {
		return false, false
	}

	for _, existing := range q.byClass[classID] {
		if existing.StudentID == request.StudentID {
			return false, true
		}
	}
	q.byClass[classID] = append(q.byClass[classID], request)
	return true, true
}

// remove drops the student's pending request for the class, if present.
func (q *queue) remove(classID, studentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	requests := q.byClass[classID]
	for i, existing := range requests {
		if existing.StudentID == studentID {
			q.byClass[classID] = append(requests[:i], requests[i+1:]...)
			if len(q.byClass[classID]) == 0 {
				delete(q.byClass, classID)
			}
			return true
		}
	}
	return false
}

// list returns a copy of the class's pending requests in arrival order.
func (q *queue) list(classID string) []types.PendingJoinRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	requests := q.byClass[classID]
	out := make([]types.PendingJoinRequest, len(requests))
	copy(out, requests)
	return out
}

// clear drops every pending request for the class.
func (q *queue) clear(classID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byClass, classID)
}
