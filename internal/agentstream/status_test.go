package agentstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(m *StatusMachine, records ...string) []Notification {
	var out []Notification
	for _, r := range records {
		out = append(out, m.Apply([]byte(r))...)
	}
	return out
}

func statuses(ns []Notification) []Status {
	var out []Status
	for _, n := range ns {
		if n.Status != "" {
			out = append(out, n.Status)
		}
	}
	return out
}

func messages(ns []Notification) []*ChatMessage {
	var out []*ChatMessage
	for _, n := range ns {
		if n.Msg != nil {
			out = append(out, n.Msg)
		}
	}
	return out
}

func TestStatusMachine_InitAssistantResult(t *testing.T) {
	m := NewStatusMachine()
	require.Equal(t, StatusConnecting, m.State())

	ns := apply(m,
		`{"type":"system","subtype":"init","session_id":"S"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
		`{"type":"result"}`,
	)

	assert.Equal(t, []Status{StatusThinking, StatusTyping, StatusDone}, statuses(ns))

	msgs := messages(ns)
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text)

	var captured []string
	for _, n := range ns {
		if n.AgentSessionID != "" {
			captured = append(captured, n.AgentSessionID)
		}
	}
	assert.Equal(t, []string{"S"}, captured, "session id captured exactly once")
}

func TestStatusMachine_CaptureOnlyOnce(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m,
		`{"type":"system","subtype":"init","session_id":"S1"}`,
		`{"type":"system","subtype":"init","session_id":"S2"}`,
	)
	count := 0
	for _, n := range ns {
		if n.AgentSessionID != "" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestStatusMachine_InitOrdering(t *testing.T) {
	// The capture event precedes the thinking transition.
	m := NewStatusMachine()
	ns := apply(m, `{"type":"system","subtype":"init","session_id":"S"}`)
	require.Len(t, ns, 2)
	assert.Equal(t, "S", ns[0].AgentSessionID)
	assert.Equal(t, StatusThinking, ns[1].Status)
}

func TestStatusMachine_AssistantStatusBeforeMessages(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m, `{"type":"assistant","message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}`)
	require.Len(t, ns, 3)
	assert.Equal(t, StatusTyping, ns[0].Status)
	assert.Equal(t, "a", ns[1].Msg.Text)
	assert.Equal(t, "b", ns[2].Msg.Text)
}

func TestStatusMachine_UserMessagesBeforeStatus(t *testing.T) {
	// The trailing thinking transition comes after the block messages so
	// tool results attribute to the state that follows them.
	m := NewStatusMachine()
	apply(m, `{"type":"assistant","message":{"content":[]}}`) // move to typing
	ns := apply(m, `{"type":"user","message":{"content":[{"type":"tool_result","content":"out"},{"type":"text","text":"go on"}]}}`)
	require.Len(t, ns, 3)
	assert.Equal(t, RoleSystem, ns[0].Msg.Role)
	assert.Equal(t, "out", ns[0].Msg.Text)
	assert.Equal(t, RoleUser, ns[1].Msg.Role)
	assert.Equal(t, "go on", ns[1].Msg.Text)
	assert.Equal(t, StatusThinking, ns[2].Status)
}

func TestStatusMachine_ToolUsePlaceholder(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m, `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`)
	msgs := messages(ns)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bash", msgs[0].ToolName)
	assert.Empty(t, msgs[0].Text)
}

func TestStatusMachine_AskUserQuestion(t *testing.T) {
	m := NewStatusMachine()
	input := `{"questions":[{"question":"Proceed?","options":[{"label":"Yes"},{"label":"No"}]}]}`
	rec := fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"AskUserQuestion","input":%s}]}}`, input)
	ns := apply(m, rec)
	msgs := messages(ns)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Proceed?", msgs[0].Text)
	assert.Equal(t, []string{"Yes", "No"}, msgs[0].Options)
}

func TestStatusMachine_AskUserQuestionStringOptions(t *testing.T) {
	m := NewStatusMachine()
	rec := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"AskUserQuestion","input":{"questions":[{"question":"Which?","options":["a","b"]}]}}]}}`
	msgs := messages(apply(m, rec))
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"a", "b"}, msgs[0].Options)
}

func TestStatusMachine_ToolResultTruncation(t *testing.T) {
	m := NewStatusMachine()
	long := strings.Repeat("x", 5000)
	rec, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"content": []map[string]any{{"type": "tool_result", "content": long}},
		},
	})
	require.NoError(t, err)

	msgs := messages(m.Apply(rec))
	require.Len(t, msgs, 1)
	require.True(t, strings.HasSuffix(msgs[0].Text, truncationMarker))
	body := strings.TrimSuffix(msgs[0].Text, truncationMarker)
	assert.Equal(t, 4096, len([]rune(body)))
}

func TestStatusMachine_ToolResultBlockList(t *testing.T) {
	m := NewStatusMachine()
	rec := `{"type":"user","message":{"content":[{"type":"tool_result","content":[{"type":"text","text":"part1 "},{"type":"text","text":"part2"}]}]}}`
	msgs := messages(apply(m, rec))
	require.Len(t, msgs, 1)
	assert.Equal(t, "part1 part2", msgs[0].Text)
}

func TestStatusMachine_UnknownRecordTypeIgnored(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m, `{"type":"ping"}`, `{"type":"system","subtype":"status"}`)
	assert.Empty(t, ns)
	assert.Equal(t, StatusConnecting, m.State())
}

func TestStatusMachine_IdleIsTerminal(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m, `{"type":"done"}`)
	assert.Equal(t, []Status{StatusIdle}, statuses(ns))

	after := apply(m,
		`{"type":"system","subtype":"init","session_id":"S"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
	)
	assert.Empty(t, after)
	assert.Equal(t, StatusIdle, m.State())
}

func TestStatusMachine_UnchangedStatusSuppressed(t *testing.T) {
	m := NewStatusMachine()
	ns := apply(m,
		`{"type":"assistant","message":{"content":[]}}`,
		`{"type":"assistant","message":{"content":[]}}`,
	)
	assert.Equal(t, []Status{StatusTyping}, statuses(ns))
}

func TestRun_PipelineEndToEnd(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"S"}`,
		``,
		`garbage line`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
		`{"type":"result"}`,
	}, "\n") + "\n"

	var got []Notification
	err := Run(context.Background(), "sess-1", strings.NewReader(stream), func(id string, n Notification) {
		assert.Equal(t, "sess-1", id)
		got = append(got, n)
	})
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusThinking, StatusTyping, StatusDone}, statuses(got))
	require.Len(t, messages(got), 1)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, "s", strings.NewReader(`{"type":"result"}`+"\n"), func(string, Notification) {})
	assert.ErrorIs(t, err, context.Canceled)
}
