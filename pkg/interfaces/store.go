package interfaces

import (
	"context"

	"rollcall/pkg/types"
)

// Store is the persistence boundary for rosters, accounts and durable
// attendance records. Implementations must make AppendStudentToRoster and
// UpsertAttendanceRecord idempotent; the finalize-retry contract depends
// on re-running upserts being harmless.
type Store interface {
	// GetClassByID returns a class with its full roster, or ErrClassNotFound.
	GetClassByID(ctx context.Context, classID string) (*types.Class, error)

	// CreateClass persists a new class and its initial roster atomically.
	CreateClass(ctx context.Context, class *types.Class) error

	// AppendStudentToRoster enrolls a student in a class. Appending an
	// already-enrolled student is a no-op.
	AppendStudentToRoster(ctx context.Context, classID, studentID string) error

	// ListClassesForStudent returns the classes whose roster contains the student.
	ListClassesForStudent(ctx context.Context, studentID string) ([]types.ClassInfo, error)

	// ListClassesForTeacher returns the classes owned by the teacher.
	ListClassesForTeacher(ctx context.Context, teacherID string) ([]types.ClassInfo, error)

	// FindUserByID returns an account record, or ErrUserNotFound.
	FindUserByID(ctx context.Context, userID string) (*types.User, error)

	// CreateUser persists a new account record.
	CreateUser(ctx context.Context, user *types.User) error

	// UpsertAttendanceRecord writes one durable attendance outcome,
	// unique on (classID, studentID); later writes replace the status.
	UpsertAttendanceRecord(ctx context.Context, classID, studentID, status string) error

	// GetAttendanceRecord returns one durable record, or ErrRecordNotFound.
	GetAttendanceRecord(ctx context.Context, classID, studentID string) (*types.AttendanceRecord, error)

	// GetAttendanceForClass returns all durable records for a class joined
	// with student identity, ordered by student name.
	GetAttendanceForClass(ctx context.Context, classID string) ([]types.AttendanceReportEntry, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources after pending writes complete.
	Close() error
}
