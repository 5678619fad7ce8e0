package session

import "time"

// State represents the lifecycle state of a session.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Session holds externally visible metadata for a single agent process.
// The caller supplies the id; the registry never generates one.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	WorkDir   string    `json:"workDir"`
	CreatedAt time.Time `json:"createdAt"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
}

// Viewer is the single duplex connection currently bound to a session.
// The registry routes output through it but never owns it: replacing or
// clearing the reference does not close the underlying connection.
type Viewer interface {
	// SendReplay delivers buffered history exactly once, before any live
	// output that follows it.
	SendReplay(data []byte) error
	// SendOutput delivers one live output chunk.
	SendOutput(data []byte) error
	// SendExit delivers the process exit code.
	SendExit(code int) error
	// Close tears down the connection after an exit notification.
	Close()
}
