// Package agentstream consumes the newline-delimited JSON event stream an
// agent emits in stream-json mode and derives board-facing status and chat
// notifications from it.
package agentstream

import "encoding/json"

// Record is one framed event from the agent's stream.
type Record struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Message   *Payload `json:"message,omitempty"`
}

// Payload carries the ordered content blocks of an assistant or user record.
type Payload struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one tagged block inside a message payload.
type ContentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ResultText extracts the text of a tool_result block. The agent emits the
// payload either as a plain string or as a list of text blocks.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return ""
	}
	out := ""
	for _, blk := range blocks {
		if blk.Type == "text" {
			out += blk.Text
		}
	}
	return out
}

// askInput is the input shape of the AskUserQuestion tool.
type askInput struct {
	Questions []struct {
		Question string           `json:"question"`
		Options  []questionOption `json:"options"`
	} `json:"questions"`
}

// questionOption tolerates both the object form {"label": ...} and a bare
// string.
type questionOption struct {
	Label string
}

func (o *questionOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Label = s
		return nil
	}
	var obj struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Label = obj.Label
	return nil
}

// parseAsk extracts the first question and its option labels from an
// AskUserQuestion tool_use input.
func parseAsk(input json.RawMessage) (string, []string) {
	var ask askInput
	if err := json.Unmarshal(input, &ask); err != nil || len(ask.Questions) == 0 {
		return "", nil
	}
	q := ask.Questions[0]
	opts := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		opts = append(opts, o.Label)
	}
	return q.Question, opts
}
