package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"rollcall/internal/join"
	"rollcall/internal/session"
	"rollcall/internal/websocket"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Mock store for testing
type mockStore struct {
	mu      sync.Mutex
	classes map[string]*types.Class
	users   map[string]*types.User
	records map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		classes: make(map[string]*types.Class),
		users:   make(map[string]*types.User),
		records: make(map[string]string),
	}
}

func (m *mockStore) addClass(id, teacherID string, studentIDs ...string) {
	m.classes[id] = &types.Class{ID: id, Name: "Class " + id, TeacherID: teacherID, StudentIDs: studentIDs}
}

func (m *mockStore) addStudent(id, name string) {
	m.users[id] = &types.User{ID: id, Name: name, Email: id + "@example.com", Role: types.RoleStudent}
}

func (m *mockStore) GetClassByID(ctx context.Context, classID string) (*types.Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	class, exists := m.classes[classID]
	if !exists {
		return nil, interfaces.ErrClassNotFound
	}
	copied := *class
	return &copied, nil
}

func (m *mockStore) FindUserByID(ctx context.Context, userID string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, exists := m.users[userID]
	if !exists {
		return nil, interfaces.ErrUserNotFound
	}
	return user, nil
}

func (m *mockStore) AppendStudentToRoster(ctx context.Context, classID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	class := m.classes[classID]
	for _, enrolled := range class.StudentIDs {
		if enrolled == studentID {
			return nil
		}
	}
	class.StudentIDs = append(class.StudentIDs, studentID)
	return nil
}

func (m *mockStore) UpsertAttendanceRecord(ctx context.Context, classID, studentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[classID+"/"+studentID] = status
	return nil
}

func (m *mockStore) ListClassesForStudent(ctx context.Context, studentID string) ([]types.ClassInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var classes []types.ClassInfo
	for _, class := range m.classes {
		for _, enrolled := range class.StudentIDs {
			if enrolled == studentID {
				classes = append(classes, types.ClassInfo{ID: class.ID, Name: class.Name})
			}
		}
	}
	return classes, nil
}

func (m *mockStore) ListClassesForTeacher(ctx context.Context, teacherID string) ([]types.ClassInfo, error) {
	return nil, nil
}

func (m *mockStore) CreateClass(ctx context.Context, class *types.Class) error { return nil }
func (m *mockStore) CreateUser(ctx context.Context, user *types.User) error    { return nil }

func (m *mockStore) GetAttendanceRecord(ctx context.Context, classID, studentID string) (*types.AttendanceRecord, error) {
	return nil, interfaces.ErrRecordNotFound
}

func (m *mockStore) GetAttendanceForClass(ctx context.Context, classID string) ([]types.AttendanceReportEntry, error) {
	return nil, nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

var testUpgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testEnv wires a router against real session/join components and a mock store.
type testEnv struct {
	store    *mockStore
	registry *websocket.Registry
	sessions *session.Manager
	joins    *join.Workflow
	router   *Router
}

func newTestEnv(t *testing.T) *testEnv {
	store := newMockStore()
	registry := websocket.NewRegistry()
	joins := join.NewWorkflow(store, registry)
	sessions := session.NewManager(store, joins)
	joins.BindSessions(sessions)

	return &testEnv{
		store:    store,
		registry: registry,
		sessions: sessions,
		joins:    joins,
		router:   NewRouter(registry, sessions, joins, store, 1000),
	}
}

// connect returns a registered server-side connection and the raw client
// socket for observing replies.
func (env *testEnv) connect(t *testing.T, userID, role string) (*websocket.Connection, *gorillaws.Conn) {
	t.Helper()

	serverConnCh := make(chan *gorillaws.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(func() { server.Close() })

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	var serverConn *gorillaws.Conn
	select {
	case serverConn = <-serverConnCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server connection")
	}

	conn := websocket.NewConnection(serverConn)
	t.Cleanup(func() { conn.Close() })
	conn.SetIdentity(types.Identity{UserID: userID, Role: role})
	if err := env.registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	t.Cleanup(func() { env.registry.Unregister(conn) })

	return conn, clientConn
}

func dispatchEvent(env *testEnv, conn *websocket.Connection, event string, data interface{}) {
	envelope := map[string]interface{}{"event": event}
	if data != nil {
		envelope["data"] = data
	}
	raw, _ := json.Marshal(envelope)
	env.router.Dispatch(conn, raw)
}

func readReply(t *testing.T, clientConn *gorillaws.Conn) (string, json.RawMessage) {
	t.Helper()
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	return envelope.Event, envelope.Data
}

func expectError(t *testing.T, clientConn *gorillaws.Conn, message string) {
	t.Helper()
	event, data := readReply(t, clientConn)
	if event != types.EventError {
		t.Fatalf("Expected ERROR envelope, got %s", event)
	}
	var payload types.ErrorData
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Failed to decode error payload: %v", err)
	}
	if payload.Message != message {
		t.Errorf("Expected error '%s', got '%s'", message, payload.Message)
	}
}

func TestRouter_MalformedEnvelope(t *testing.T) {
	env := newTestEnv(t)
	conn, clientConn := env.connect(t, "teacher1", types.RoleTeacher)

	env.router.Dispatch(conn, []byte("not json at all"))
	expectError(t, clientConn, "Invalid message format")
}

func TestRouter_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	conn, clientConn := env.connect(t, "teacher1", types.RoleTeacher)

	dispatchEvent(env, conn, "SHUTDOWN_EVERYTHING", nil)
	expectError(t, clientConn, "Unknown event")
}

func TestRouter_RoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)
	studentConn, studentClient := env.connect(t, "student1", types.RoleStudent)

	// Teacher events rejected for students with the teacher-specific message
	for _, event := range []string{
		types.EventApproveJoin,
		types.EventRejectJoin,
		types.EventGetPendingRequests,
		types.EventAttendanceMarked,
		types.EventTodaySummary,
		types.EventDone,
	} {
		dispatchEvent(env, studentConn, event, map[string]string{"studentId": "x"})
		expectError(t, studentClient, "Forbidden, teacher event only")
	}

	// Student events rejected for teachers
	for _, event := range []string{
		types.EventJoinRequest,
		types.EventGetMyClasses,
		types.EventMyAttendance,
	} {
		dispatchEvent(env, teacherConn, event, nil)
		expectError(t, teacherClient, "Forbidden, student event only")
	}
}

func TestRouter_SessionScopedEventsRequireActiveSession(t *testing.T) {
	env := newTestEnv(t)
	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)
	studentConn, studentClient := env.connect(t, "student1", types.RoleStudent)

	dispatchEvent(env, studentConn, types.EventJoinRequest, nil)
	expectError(t, studentClient, "No active attendance session")

	dispatchEvent(env, teacherConn, types.EventAttendanceMarked, map[string]string{"studentId": "student1", "status": types.StatusPresent})
	expectError(t, teacherClient, "No active attendance session")

	dispatchEvent(env, teacherConn, types.EventTodaySummary, nil)
	expectError(t, teacherClient, "No active attendance session")

	dispatchEvent(env, studentConn, types.EventMyAttendance, nil)
	expectError(t, studentClient, "No active attendance session")

	dispatchEvent(env, teacherConn, types.EventDone, nil)
	expectError(t, teacherClient, "No active attendance session")
}

func TestRouter_PendingRequestsWithoutSessionIsEmptyList(t *testing.T) {
	env := newTestEnv(t)
	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)

	dispatchEvent(env, teacherConn, types.EventGetPendingRequests, nil)

	event, data := readReply(t, teacherClient)
	if event != types.EventPendingRequests {
		t.Fatalf("Expected PENDING_REQUESTS, got %s", event)
	}
	var payload types.PendingRequestsData
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.Requests == nil || len(payload.Requests) != 0 {
		t.Errorf("Expected empty (non-null) request list, got %v", payload.Requests)
	}
}

func TestRouter_JoinApprovalScenario(t *testing.T) {
	env := newTestEnv(t)
	env.store.addClass("class1", "teacher1")
	env.store.addStudent("student1", "Alice")

	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)
	studentConn, studentClient := env.connect(t, "student1", types.RoleStudent)

	if _, err := env.sessions.Start(context.Background(), "class1", types.Identity{UserID: "teacher1", Role: types.RoleTeacher}); err != nil {
		t.Fatalf("Start should succeed: %v", err)
	}

	// Student asks to join the active session's class
	dispatchEvent(env, studentConn, types.EventJoinRequest, nil)

	event, data := readReply(t, studentClient)
	if event != types.EventJoinResponse {
		t.Fatalf("Expected JOIN_RESPONSE, got %s", event)
	}
	var joinResponse types.JoinResponseData
	json.Unmarshal(data, &joinResponse)
	if joinResponse.Status != types.JoinStatusPending || joinResponse.ClassID != "class1" {
		t.Errorf("Unexpected join response: %+v", joinResponse)
	}

	// Teacher is notified of the new request
	event, data = readReply(t, teacherClient)
	if event != types.EventNewJoinRequest {
		t.Fatalf("Expected NEW_JOIN_REQUEST, got %s", event)
	}
	var newRequest types.NewJoinRequestData
	json.Unmarshal(data, &newRequest)
	if newRequest.Student.ID != "student1" || newRequest.ClassID != "class1" {
		t.Errorf("Unexpected NEW_JOIN_REQUEST payload: %+v", newRequest)
	}

	// Teacher approves; teacher sees STUDENT_ADDED, student sees JOIN_APPROVED
	dispatchEvent(env, teacherConn, types.EventApproveJoin, map[string]string{"studentId": "student1"})

	event, data = readReply(t, teacherClient)
	if event != types.EventStudentAdded {
		t.Fatalf("Expected STUDENT_ADDED, got %s", event)
	}
	var added types.StudentAddedData
	json.Unmarshal(data, &added)
	if added.StudentID != "student1" || added.ClassID != "class1" {
		t.Errorf("Unexpected STUDENT_ADDED payload: %+v", added)
	}

	event, data = readReply(t, studentClient)
	if event != types.EventJoinApproved {
		t.Fatalf("Expected JOIN_APPROVED, got %s", event)
	}
	var approved types.JoinApprovedData
	json.Unmarshal(data, &approved)
	if approved.ClassID != "class1" || approved.ClassName != "Class class1" {
		t.Errorf("Unexpected JOIN_APPROVED payload: %+v", approved)
	}

	class, _ := env.store.GetClassByID(context.Background(), "class1")
	if len(class.StudentIDs) != 1 || class.StudentIDs[0] != "student1" {
		t.Errorf("Student should be enrolled after approval, got %v", class.StudentIDs)
	}
}

func TestRouter_MarkingAndSummaryBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.store.addClass("class1", "teacher1", "student1", "student2")

	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)
	studentConn, studentClient := env.connect(t, "student1", types.RoleStudent)

	if _, err := env.sessions.Start(context.Background(), "class1", types.Identity{UserID: "teacher1", Role: types.RoleTeacher}); err != nil {
		t.Fatalf("Start should succeed: %v", err)
	}

	// Mark broadcasts to everyone, teacher included
	dispatchEvent(env, teacherConn, types.EventAttendanceMarked, map[string]string{"studentId": "student1", "status": types.StatusPresent})

	for _, client := range []*gorillaws.Conn{teacherClient, studentClient} {
		event, data := readReply(t, client)
		if event != types.EventAttendanceMarked {
			t.Fatalf("Expected ATTENDANCE_MARKED broadcast, got %s", event)
		}
		var marked types.AttendanceMarkedData
		json.Unmarshal(data, &marked)
		if marked.StudentID != "student1" || marked.Status != types.StatusPresent {
			t.Errorf("Unexpected broadcast payload: %+v", marked)
		}
	}

	// Summary broadcast counts marked students only
	dispatchEvent(env, teacherConn, types.EventTodaySummary, nil)
	for _, client := range []*gorillaws.Conn{teacherClient, studentClient} {
		event, data := readReply(t, client)
		if event != types.EventTodaySummary {
			t.Fatalf("Expected TODAY_SUMMARY broadcast, got %s", event)
		}
		var summary types.Summary
		json.Unmarshal(data, &summary)
		if summary.Present != 1 || summary.Absent != 0 || summary.Total != 1 {
			t.Errorf("Unexpected summary: %+v", summary)
		}
	}

	// Student reads their own status
	dispatchEvent(env, studentConn, types.EventMyAttendance, nil)
	event, data := readReply(t, studentClient)
	if event != types.EventMyAttendance {
		t.Fatalf("Expected MY_ATTENDANCE, got %s", event)
	}
	var mine types.MyAttendanceData
	json.Unmarshal(data, &mine)
	if mine.Status != types.StatusPresent {
		t.Errorf("Expected present, got '%s'", mine.Status)
	}
}

func TestRouter_InvalidMarkStatus(t *testing.T) {
	env := newTestEnv(t)
	env.store.addClass("class1", "teacher1")
	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)

	if _, err := env.sessions.Start(context.Background(), "class1", types.Identity{UserID: "teacher1", Role: types.RoleTeacher}); err != nil {
		t.Fatalf("Start should succeed: %v", err)
	}

	dispatchEvent(env, teacherConn, types.EventAttendanceMarked, map[string]string{"studentId": "student1", "status": "late"})
	expectError(t, teacherClient, "invalid status: must be 'present' or 'absent'")
}

func TestRouter_DoneFinalizesAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.store.addClass("class1", "teacher1", "student1", "student2")

	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)
	_, studentClient := env.connect(t, "student1", types.RoleStudent)

	if _, err := env.sessions.Start(context.Background(), "class1", types.Identity{UserID: "teacher1", Role: types.RoleTeacher}); err != nil {
		t.Fatalf("Start should succeed: %v", err)
	}

	dispatchEvent(env, teacherConn, types.EventAttendanceMarked, map[string]string{"studentId": "student1", "status": types.StatusPresent})
	readReply(t, teacherClient) // broadcast
	readReply(t, studentClient)

	dispatchEvent(env, teacherConn, types.EventDone, nil)

	for _, client := range []*gorillaws.Conn{teacherClient, studentClient} {
		event, data := readReply(t, client)
		if event != types.EventDone {
			t.Fatalf("Expected DONE broadcast, got %s", event)
		}
		var done types.DoneData
		json.Unmarshal(data, &done)
		if done.Message != "Attendance persisted" {
			t.Errorf("Unexpected DONE message: %s", done.Message)
		}
		if done.Present != 1 || done.Absent != 1 || done.Total != 2 {
			t.Errorf("Unexpected DONE summary: %+v", done)
		}
	}

	// Records persisted, unmarked student backfilled absent
	env.store.mu.Lock()
	present := env.store.records["class1/student1"]
	absent := env.store.records["class1/student2"]
	env.store.mu.Unlock()
	if present != types.StatusPresent || absent != types.StatusAbsent {
		t.Errorf("Expected persisted present/absent, got %s/%s", present, absent)
	}

	if _, _, active := env.sessions.Current(); active {
		t.Error("Session should be idle after DONE")
	}
}

func TestRouter_RateLimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	env.router.limiter = NewRateLimiter(2)

	teacherConn, teacherClient := env.connect(t, "teacher1", types.RoleTeacher)

	for i := 0; i < 2; i++ {
		dispatchEvent(env, teacherConn, types.EventGetPendingRequests, nil)
		readReply(t, teacherClient)
	}

	dispatchEvent(env, teacherConn, types.EventGetPendingRequests, nil)
	expectError(t, teacherClient, "Rate limit exceeded")
}
