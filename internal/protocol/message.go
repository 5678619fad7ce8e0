package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all board-facing WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeSessionUpdate     = "session.update"
	TypeSessionTerminated = "session.terminated"
	TypeAgentStatus       = "agent.status"
	TypeAgentMessage      = "agent.message"
	TypeAgentCaptured     = "agent.captured"
	TypeError             = "error"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrSessionLimit    = "SESSION_LIMIT"
	ErrSpawnFailed     = "SPAWN_FAILED"
)

// Server → Client payloads.

type SessionUpdatePayload struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	WorkDir   string `json:"workDir"`
	CreatedAt string `json:"createdAt"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

type SessionTerminatedPayload struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

type AgentStatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type AgentMessagePayload struct {
	SessionID string   `json:"sessionId"`
	Role      string   `json:"role"`
	Text      string   `json:"text"`
	ToolName  string   `json:"toolName,omitempty"`
	Options   []string `json:"options,omitempty"`
}

type AgentCapturedPayload struct {
	SessionID      string `json:"sessionId"`
	AgentSessionID string `json:"agentSessionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
