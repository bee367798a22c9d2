package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; production deployments should tighten this.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionInfo supplies the current-session snapshot sent on connect.
// Satisfied by the session manager.
type SessionInfo interface {
	Current() (classID string, startedAt time.Time, active bool)
}

// Dispatcher consumes inbound envelopes from authenticated connections.
// Satisfied by the message router.
type Dispatcher interface {
	Dispatch(conn *Connection, raw []byte)
}

// Handler upgrades HTTP requests to live connections, verifies the
// credential presented at handshake, and runs each connection's read loop.
type Handler struct {
	registry   *Registry
	verifier   interfaces.TokenVerifier
	sessions   SessionInfo
	dispatcher Dispatcher

	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, sessions SessionInfo, dispatcher Dispatcher, pingInterval, readTimeout time.Duration) *Handler {
	return &Handler{
		registry:     registry,
		verifier:     verifier,
		sessions:     sessions,
		dispatcher:   dispatcher,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// HandleWebSocket is the /ws endpoint. The client presents a signed
// credential token as a query parameter; verification failure closes the
// connection before any inbound message is read.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn)

	identity, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.WriteJSON(types.ErrorEnvelope("Unauthorized or invalid token"))
		// Give the writer a moment to flush the rejection before closing.
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
		return
	}

	conn.SetIdentity(identity)

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	h.sendSessionInfo(conn)

	go h.handleConnection(conn)
}

// sendSessionInfo tells a fresh connection whether a session is live.
func (h *Handler) sendSessionInfo(conn *Connection) {
	classID, startedAt, active := h.sessions.Current()

	info := types.SessionInfoData{Active: active}
	if active {
		info.ClassID = classID
		info.StartedAt = &startedAt
	}

	if err := conn.WriteJSON(types.Outbound{Event: types.EventSessionInfo, Data: info}); err != nil {
		log.Printf("Failed to send session info to %s: %v", conn.UserID(), err)
	}
}

// handleConnection owns the connection lifecycle: heartbeat monitoring,
// the read loop, and cleanup. A dropped connection only leaves the
// registry; it never touches session state.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", conn.UserID(), err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			h.dispatcher.Dispatch(conn, data)
		}
	}
}
