package session

import (
	"bytes"
	"testing"
	"time"
)

func TestStartProc_EmptyCommand(t *testing.T) {
	_, err := StartProc(nil, t.TempDir(), 80, 24)
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStartProc_MissingBinary(t *testing.T) {
	_, err := StartProc([]string{"/nonexistent/binary-xyz"}, t.TempDir(), 80, 24)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestProc_OutputAndExitCode(t *testing.T) {
	p, err := StartProc([]string{"sh", "-c", "printf hello; exit 3"}, t.TempDir(), 80, 24)
	if err != nil {
		t.Fatalf("StartProc failed: %v", err)
	}

	var out bytes.Buffer
	for chunk := range p.Output() {
		out.Write(chunk)
	}
	if !bytes.Contains(out.Bytes(), []byte("hello")) {
		t.Errorf("expected output to contain %q, got %q", "hello", out.String())
	}

	select {
	case code := <-p.Done():
		if code != 3 {
			t.Errorf("expected exit code 3, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit code")
	}
	p.Close()
}

func TestProc_WriteRoundTrip(t *testing.T) {
	p, err := StartProc([]string{"cat"}, t.TempDir(), 80, 24)
	if err != nil {
		t.Fatalf("StartProc failed: %v", err)
	}
	defer func() {
		p.Kill()
		p.Close()
	}()

	if err := p.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var out bytes.Buffer
	deadline := time.After(5 * time.Second)
	for !bytes.Contains(out.Bytes(), []byte("ping")) {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				t.Fatalf("output closed before echo arrived: %q", out.String())
			}
			out.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", out.String())
		}
	}
}

func TestProc_Resize(t *testing.T) {
	p, err := StartProc([]string{"sleep", "5"}, t.TempDir(), 80, 24)
	if err != nil {
		t.Fatalf("StartProc failed: %v", err)
	}
	defer func() {
		p.Kill()
		p.Close()
	}()

	if err := p.Resize(120, 40); err != nil {
		t.Errorf("Resize failed: %v", err)
	}
}
