package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"agentboard/internal/protocol"
	"agentboard/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsViewer adapts one attach WebSocket connection to the registry's Viewer
// interface. Writes come from the registry pump and the keepalive ticker
// concurrently, so they are serialized with a mutex rather than a pump
// goroutine of their own.
type wsViewer struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSViewer(conn *websocket.Conn) *wsViewer {
	return &wsViewer{id: uuid.New().String(), conn: conn}
}

func (v *wsViewer) write(messageType int, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("viewer connection closed")
	}
	v.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return v.conn.WriteMessage(messageType, data)
}

// SendReplay delivers buffered history as a single replay frame.
func (v *wsViewer) SendReplay(data []byte) error {
	frame, err := protocol.EncodeReplay(data)
	if err != nil {
		return err
	}
	return v.write(websocket.TextMessage, frame)
}

// SendOutput delivers one live output chunk as a binary frame.
func (v *wsViewer) SendOutput(data []byte) error {
	return v.write(websocket.BinaryMessage, data)
}

// SendExit delivers the exit frame.
func (v *wsViewer) SendExit(code int) error {
	frame, err := protocol.EncodeExit(code)
	if err != nil {
		return err
	}
	return v.write(websocket.TextMessage, frame)
}

// Close tears down the connection.
func (v *wsViewer) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.conn.Close()
}

// handleAttach binds one WebSocket connection to a session as its viewer.
// The session id is caller-supplied and never generated here: attaching
// without one is a client error.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("attach upgrade failed", zap.Error(err))
		return
	}

	viewer := newWSViewer(conn)

	id := r.URL.Query().Get("session")
	if id == "" {
		s.rejectAttach(viewer, "missing session id")
		return
	}

	workDir := r.URL.Query().Get("workdir")
	if _, err := s.registry.AttachOrCreate(id, workDir, viewer); err != nil {
		s.rejectAttach(viewer, err.Error())

		// The board learns about spawn failures too: the session it asked
		// its viewer to attach to never came into being.
		code := protocol.ErrSpawnFailed
		if errors.Is(err, session.ErrSessionLimit) {
			code = protocol.ErrSessionLimit
		}
		if msg, merr := protocol.NewErrorMessage(code, err.Error()); merr == nil {
			s.broadcast(msg)
		}
		return
	}

	s.log.Info("viewer attached", zap.String("session", id), zap.String("viewer", viewer.id))

	stop := make(chan struct{})
	go s.attachKeepalive(viewer, stop)

	s.attachReadLoop(id, viewer)
	close(stop)
	s.log.Debug("viewer detached", zap.String("session", id), zap.String("viewer", viewer.id))
}

// rejectAttach sends one error frame and closes the connection.
func (s *Server) rejectAttach(v *wsViewer, message string) {
	if frame, err := protocol.EncodeError(message); err == nil {
		v.write(websocket.TextMessage, frame)
	}
	v.Close()
}

// attachReadLoop demultiplexes inbound viewer traffic: a well-formed resize
// control frame resizes the terminal, anything else is literal input. On
// disconnect only the viewer reference is cleared; process and buffer
// persist for reattachment.
func (s *Server) attachReadLoop(id string, viewer *wsViewer) {
	conn := viewer.conn
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if resize := protocol.ParseInbound(raw); resize != nil {
			s.registry.Resize(id, resize.Cols, resize.Rows)
			continue
		}
		s.registry.Write(id, raw)
	}

	s.registry.Detach(id, viewer)
	conn.Close()
}

// attachKeepalive pings the viewer until the read loop ends or a write
// fails.
func (s *Server) attachKeepalive(viewer *wsViewer, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := viewer.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
