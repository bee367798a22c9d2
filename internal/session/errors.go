package session

import "errors"

// Session state and authorization errors.
var (
	ErrNoActiveSession    = errors.New("no active attendance session")
	ErrSessionActive      = errors.New("an attendance session is already active")
	ErrFinalizeInProgress = errors.New("session finalization already in progress")
	ErrNotClassTeacher    = errors.New("forbidden, not class teacher")
	ErrTeacherOnly        = errors.New("forbidden, teacher event only")
)
