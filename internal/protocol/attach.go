package protocol

import "encoding/json"

// Frames exchanged on a session attach socket. Live output travels as raw
// binary frames; everything else is a small JSON control frame.

// Attach frame types.
const (
	FrameResize = "resize"
	FrameReplay = "replay"
	FrameExit   = "exit"
	FrameError  = "error"
)

// ResizeFrame is the only control frame a viewer sends. Every other inbound
// message is literal terminal input.
type ResizeFrame struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// ReplayFrame delivers buffered history once, before any live data. Data is
// base64-encoded on the wire.
type ReplayFrame struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// ExitFrame reports the process exit code; the connection closes after it.
type ExitFrame struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

// ErrorFrame reports an attach failure; the connection closes after it.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseInbound classifies a message from a viewer. It returns the resize
// frame when the message is a well-formed resize control, and nil otherwise:
// malformed or partial JSON, and any other JSON shape, count as terminal
// input rather than an error.
func ParseInbound(raw []byte) *ResizeFrame {
	var probe struct {
		Type string  `json:"type"`
		Cols *uint16 `json:"cols"`
		Rows *uint16 `json:"rows"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	if probe.Type != FrameResize || probe.Cols == nil || probe.Rows == nil {
		return nil
	}
	return &ResizeFrame{Type: FrameResize, Cols: *probe.Cols, Rows: *probe.Rows}
}

// EncodeReplay builds the wire form of a replay frame.
func EncodeReplay(data []byte) ([]byte, error) {
	return json.Marshal(ReplayFrame{Type: FrameReplay, Data: data})
}

// EncodeExit builds the wire form of an exit frame.
func EncodeExit(code int) ([]byte, error) {
	return json.Marshal(ExitFrame{Type: FrameExit, Code: code})
}

// EncodeError builds the wire form of an error frame.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(ErrorFrame{Type: FrameError, Message: message})
}
