package agentstream

import (
	"context"
	"encoding/json"
	"io"
)

// Status is the externally visible state of an agent session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusThinking   Status = "thinking"
	StatusTyping     Status = "typing"
	StatusDone       Status = "done"
	StatusIdle       Status = "idle"
)

// Role tags a chat message with its originator.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
)

const (
	// maxToolResultChars caps tool_result text relayed to the board.
	maxToolResultChars = 4096
	truncationMarker   = "… [truncated]"

	askUserQuestionTool = "AskUserQuestion"
)

// Notification is one ordered output of the status machine. Exactly one of
// the three fields is set: a status change, a captured agent session id, or
// a chat message.
type Notification struct {
	Status         Status
	AgentSessionID string
	Msg            *ChatMessage
}

// ChatMessage is a board-facing chat entry derived from the event stream.
// ToolName is set (with empty Text) for tool-use placeholders.
type ChatMessage struct {
	Role     Role     `json:"role"`
	Text     string   `json:"text"`
	ToolName string   `json:"toolName,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// StatusMachine infers session status from the agent's event records.
//
// The ordering it produces is deliberate and consumers depend on it: for
// init and assistant records the status transition precedes the messages,
// for user records the messages precede the trailing transition so that
// tool-result content is attributed to the thinking state that follows it.
type StatusMachine struct {
	state    Status
	captured bool
}

// NewStatusMachine starts in the connecting state.
func NewStatusMachine() *StatusMachine {
	return &StatusMachine{state: StatusConnecting}
}

// State returns the current status.
func (m *StatusMachine) State() Status { return m.state }

// Apply consumes one framed record and returns the ordered notifications it
// produces. Unknown record types produce nothing; once the machine reaches
// idle it stays there and every further record is ignored.
func (m *StatusMachine) Apply(raw []byte) []Notification {
	if m.state == StatusIdle {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}

	var out []Notification
	switch rec.Type {
	case "system":
		if rec.Subtype != "init" {
			return nil
		}
		if !m.captured && rec.SessionID != "" {
			m.captured = true
			out = append(out, Notification{AgentSessionID: rec.SessionID})
		}
		out = m.push(out, StatusThinking)

	case "assistant":
		out = m.push(out, StatusTyping)
		for _, b := range blocks(rec) {
			switch b.Type {
			case "text":
				out = append(out, msg(RoleAssistant, b.Text, "", nil))
			case "tool_use":
				if b.Name == askUserQuestionTool {
					question, opts := parseAsk(b.Input)
					out = append(out, msg(RoleAssistant, question, b.Name, opts))
				} else {
					out = append(out, msg(RoleAssistant, "", b.Name, nil))
				}
			}
		}

	case "user":
		for _, b := range blocks(rec) {
			switch b.Type {
			case "tool_result":
				out = append(out, msg(RoleSystem, truncate(b.ResultText()), "", nil))
			case "text":
				out = append(out, msg(RoleUser, b.Text, "", nil))
			}
		}
		out = m.push(out, StatusThinking)

	case "result":
		out = m.push(out, StatusDone)

	case "done":
		out = m.push(out, StatusIdle)
	}
	return out
}

// push appends a status transition unless the machine is already there.
func (m *StatusMachine) push(out []Notification, s Status) []Notification {
	if m.state == s {
		return out
	}
	m.state = s
	return append(out, Notification{Status: s})
}

func msg(role Role, text, toolName string, options []string) Notification {
	return Notification{Msg: &ChatMessage{Role: role, Text: text, ToolName: toolName, Options: options}}
}

func blocks(rec Record) []ContentBlock {
	if rec.Message == nil {
		return nil
	}
	return rec.Message.Content
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxToolResultChars {
		return s
	}
	return string(r[:maxToolResultChars]) + truncationMarker
}

// Sink receives ordered notifications from one session's pipeline.
type Sink func(sessionID string, n Notification)

// Run frames records from r through a fresh status machine and feeds the
// notifications to sink, until the stream ends or ctx is cancelled. A
// cancelled ctx stops only this pipeline; the caller is responsible for
// unblocking the reader.
func Run(ctx context.Context, sessionID string, r io.Reader, sink Sink) error {
	m := NewStatusMachine()
	f := NewFramer(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rec, err := f.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, n := range m.Apply(rec) {
			sink(sessionID, n)
		}
	}
}
