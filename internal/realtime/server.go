package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"agentboard/internal/agentstream"
	"agentboard/internal/protocol"
	"agentboard/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	clientSendBuf = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server exposes the two WebSocket surfaces (board notification hub and
// per-session attach sockets) plus the REST collaborator API.
type Server struct {
	registry  *session.Registry
	staticDir string
	log       *zap.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

// client is one board hub connection. The hub is broadcast-only: inbound
// traffic is discarded beyond keepalive bookkeeping.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a realtime server on top of the session registry.
func New(registry *session.Registry, staticDir string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		registry:  registry,
		staticDir: staticDir,
		log:       log,
		clients:   make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints.
	mux.HandleFunc("GET /ws", s.handleBoardSocket)
	mux.HandleFunc("GET /attach", s.handleAttach)

	// REST API endpoints.
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminateSession)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleBoardSocket upgrades a task-board client connection.
func (s *Server) handleBoardSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuf),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Bring the new client up to date with the current session list.
	for _, sess := range s.registry.List() {
		s.enqueue(c, sessionUpdateMessage(sess))
	}

	go c.writePump()
	go c.readPump()
}

// readPump keeps the read side alive for pong handling; board clients have
// nothing to say, so payloads are discarded.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("board socket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected board client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.clientsMu.Unlock()
}

// enqueue hands a message to one client, dropping it if the client is slow.
func (s *Server) enqueue(c *client, msg *protocol.Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

// broadcast sends a message to all connected board clients.
func (s *Server) broadcast(msg *protocol.Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func sessionUpdateMessage(sess *session.Session) *protocol.Message {
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, protocol.SessionUpdatePayload{
		ID:        sess.ID,
		State:     string(sess.State),
		WorkDir:   sess.WorkDir,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339Nano),
		Cols:      sess.Cols,
		Rows:      sess.Rows,
	})
	if err != nil {
		return nil
	}
	return msg
}

// BroadcastSessionUpdate pushes a session's current state to all board
// clients. Wired to the registry's OnCreated hook.
func (s *Server) BroadcastSessionUpdate(sess *session.Session) {
	s.broadcast(sessionUpdateMessage(sess))
}

// BroadcastSessionTerminated announces a session's exit to all board
// clients. Wired to the registry's OnExited hook.
func (s *Server) BroadcastSessionTerminated(id string, code int) {
	msg, err := protocol.NewMessage(protocol.TypeSessionTerminated, protocol.SessionTerminatedPayload{
		SessionID: id,
		ExitCode:  code,
	})
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// PublishAgentNotification relays one status-machine notification to the
// board. It is the Sink for every agent event pipeline.
func (s *Server) PublishAgentNotification(sessionID string, n agentstream.Notification) {
	switch {
	case n.Status != "":
		msg, err := protocol.NewMessage(protocol.TypeAgentStatus, protocol.AgentStatusPayload{
			SessionID: sessionID,
			Status:    string(n.Status),
		})
		if err != nil {
			return
		}
		s.broadcast(msg)

	case n.AgentSessionID != "":
		msg, err := protocol.NewMessage(protocol.TypeAgentCaptured, protocol.AgentCapturedPayload{
			SessionID:      sessionID,
			AgentSessionID: n.AgentSessionID,
		})
		if err != nil {
			return
		}
		s.broadcast(msg)

	case n.Msg != nil:
		msg, err := protocol.NewMessage(protocol.TypeAgentMessage, protocol.AgentMessagePayload{
			SessionID: sessionID,
			Role:      string(n.Msg.Role),
			Text:      n.Msg.Text,
			ToolName:  n.Msg.ToolName,
			Options:   n.Msg.Options,
		})
		if err != nil {
			return
		}
		s.broadcast(msg)
	}
}
