package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestParseInbound_Resize(t *testing.T) {
	rf := ParseInbound([]byte(`{"type":"resize","cols":100,"rows":40}`))
	if rf == nil {
		t.Fatal("expected resize frame")
	}
	if rf.Cols != 100 || rf.Rows != 40 {
		t.Errorf("expected 100x40, got %dx%d", rf.Cols, rf.Rows)
	}
}

func TestParseInbound_MalformedJSONIsInput(t *testing.T) {
	if rf := ParseInbound([]byte(`{"type":"resize","cols":`)); rf != nil {
		t.Error("partial JSON must be treated as terminal input")
	}
	if rf := ParseInbound([]byte("ls -la\n")); rf != nil {
		t.Error("plain text must be treated as terminal input")
	}
}

func TestParseInbound_OtherJSONIsInput(t *testing.T) {
	cases := []string{
		`{"type":"exit","code":0}`,
		`{"cols":100,"rows":40}`,
		`{"type":"resize","cols":100}`,
		`{"type":"resize"}`,
		`"resize"`,
	}
	for _, c := range cases {
		if rf := ParseInbound([]byte(c)); rf != nil {
			t.Errorf("%s: must be treated as terminal input", c)
		}
	}
}

func TestEncodeReplay_Base64Data(t *testing.T) {
	raw, err := EncodeReplay([]byte("hello\x1b[0m"))
	if err != nil {
		t.Fatalf("EncodeReplay failed: %v", err)
	}

	var frame struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if frame.Type != FrameReplay {
		t.Errorf("expected type %s, got %s", FrameReplay, frame.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		t.Fatalf("data is not base64: %v", err)
	}
	if string(decoded) != "hello\x1b[0m" {
		t.Errorf("expected round-trip of raw bytes, got %q", decoded)
	}
}

func TestEncodeExitAndError(t *testing.T) {
	raw, err := EncodeExit(137)
	if err != nil {
		t.Fatalf("EncodeExit failed: %v", err)
	}
	if string(raw) != `{"type":"exit","code":137}` {
		t.Errorf("unexpected exit frame: %s", raw)
	}

	raw, err = EncodeError("missing session id")
	if err != nil {
		t.Fatalf("EncodeError failed: %v", err)
	}
	if string(raw) != `{"type":"error","message":"missing session id"}` {
		t.Errorf("unexpected error frame: %s", raw)
	}
}
