package join

import "errors"

// Join workflow errors.
var (
	ErrStudentOnly  = errors.New("forbidden, student event only")
	ErrTeacherOnly  = errors.New("forbidden, teacher event only")
	ErrSessionEnded = errors.New("attendance session ended")
)
