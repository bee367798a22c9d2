package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rollcall/pkg/database"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Manager implements interfaces.Store over SQLite. Reads run concurrently
// against the WAL database; all writes funnel through a single goroutine,
// which is what keeps SQLite write contention out of the request path.
type Manager struct {
	db           *sql.DB
	config       *database.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // protects closed
}

var _ interfaces.Store = (*Manager)(nil)

// writeOperation is one queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *database.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := database.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := database.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine.
// A failed write is retried once after a short delay before the error is
// handed back to the caller.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// GetClassByID returns a class with its roster in insertion order.
func (m *Manager) GetClassByID(ctx context.Context, classID string) (*types.Class, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, name, teacher_id FROM classes WHERE id = ?", classID)

	var class types.Class
	if err := row.Scan(&class.ID, &class.Name, &class.TeacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrClassNotFound
		}
		return nil, fmt.Errorf("failed to query class: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT student_id FROM class_students WHERE class_id = ? ORDER BY position, student_id", classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		class.StudentIDs = append(class.StudentIDs, studentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	return &class, nil
}

// CreateClass persists a class and its initial roster in one transaction.
func (m *Manager) CreateClass(ctx context.Context, class *types.Class) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			"INSERT INTO classes (id, name, teacher_id) VALUES (?, ?, ?)",
			class.ID, class.Name, class.TeacherID)
		if err != nil {
			return fmt.Errorf("failed to insert class: %w", err)
		}

		for i, studentID := range class.StudentIDs {
			_, err = tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO class_students (class_id, student_id, position) VALUES (?, ?, ?)",
				class.ID, studentID, i)
			if err != nil {
				return fmt.Errorf("failed to insert roster entry: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit class creation: %w", err)
		}
		return nil
	})
}

// AppendStudentToRoster enrolls a student; re-appending is a no-op.
func (m *Manager) AppendStudentToRoster(ctx context.Context, classID, studentID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		// position past the current tail keeps roster order stable
		_, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO class_students (class_id, student_id, position)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM class_students WHERE class_id = ?))
		`, classID, studentID, classID)
		if err != nil {
			return fmt.Errorf("failed to append student to roster: %w", err)
		}
		return nil
	})
}

// ListClassesForStudent returns the classes whose roster contains the student.
func (m *Manager) ListClassesForStudent(ctx context.Context, studentID string) ([]types.ClassInfo, error) {
	return m.listClasses(ctx, `
		SELECT c.id, c.name
		FROM classes c
		JOIN class_students cs ON cs.class_id = c.id
		WHERE cs.student_id = ?
		ORDER BY c.name
	`, studentID)
}

// ListClassesForTeacher returns the classes owned by the teacher.
func (m *Manager) ListClassesForTeacher(ctx context.Context, teacherID string) ([]types.ClassInfo, error) {
	return m.listClasses(ctx, `
		SELECT id, name FROM classes WHERE teacher_id = ? ORDER BY name
	`, teacherID)
}

func (m *Manager) listClasses(ctx context.Context, query, userID string) ([]types.ClassInfo, error) {
	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	classes := make([]types.ClassInfo, 0)
	for rows.Next() {
		var info types.ClassInfo
		if err := rows.Scan(&info.ID, &info.Name); err != nil {
			return nil, fmt.Errorf("failed to scan class row: %w", err)
		}
		classes = append(classes, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read classes: %w", err)
	}
	return classes, nil
}

// FindUserByID returns an account record.
func (m *Manager) FindUserByID(ctx context.Context, userID string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, name, email, role FROM users WHERE id = ?", userID)

	var user types.User
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Role); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// CreateUser persists an account record.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)",
			user.ID, user.Name, user.Email, user.Role)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// UpsertAttendanceRecord writes one durable attendance outcome.
// A repeated upsert for the same (class, student) replaces the status,
// which is what makes finalize retries safe.
func (m *Manager) UpsertAttendanceRecord(ctx context.Context, classID, studentID, status string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO attendance_records (class_id, student_id, status, marked_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (class_id, student_id)
			DO UPDATE SET status = excluded.status, marked_at = excluded.marked_at
		`, classID, studentID, status, time.Now())
		if err != nil {
			return fmt.Errorf("failed to upsert attendance record: %w", err)
		}
		return nil
	})
}

// GetAttendanceRecord returns one durable record.
func (m *Manager) GetAttendanceRecord(ctx context.Context, classID, studentID string) (*types.AttendanceRecord, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT class_id, student_id, status FROM attendance_records WHERE class_id = ? AND student_id = ?",
		classID, studentID)

	var record types.AttendanceRecord
	if err := row.Scan(&record.ClassID, &record.StudentID, &record.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query attendance record: %w", err)
	}
	return &record, nil
}

// GetAttendanceForClass returns all durable records for a class joined with
// student identity for display.
func (m *Manager) GetAttendanceForClass(ctx context.Context, classID string) ([]types.AttendanceReportEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT ar.student_id, u.name, u.email, ar.status
		FROM attendance_records ar
		JOIN users u ON u.id = ar.student_id
		WHERE ar.class_id = ?
		ORDER BY u.name
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query class attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]types.AttendanceReportEntry, 0)
	for rows.Next() {
		var entry types.AttendanceReportEntry
		if err := rows.Scan(&entry.StudentID, &entry.StudentName, &entry.StudentEmail, &entry.Status); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read class attendance: %w", err)
	}
	return entries, nil
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
