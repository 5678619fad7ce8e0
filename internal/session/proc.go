package session

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

const readChunkSize = 32 * 1024

// Proc owns one interactive agent process running on a pseudo-terminal.
// Output arrives as chunks on Output(); the channel closes once the PTY
// drains after process exit, then Done() yields the exit code exactly once.
type Proc struct {
	cmd *exec.Cmd
	tty *os.File

	out  chan []byte
	done chan int

	writeMu sync.Mutex
	closed  bool
}

// StartProc spawns argv on a new pseudo-terminal sized cols x rows, running
// in workDir. Spawn failure is synchronous; nothing is retried.
func StartProc(argv []string, workDir string, cols, rows uint16) (*Proc, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty agent command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	p := &Proc{
		cmd:  cmd,
		tty:  tty,
		out:  make(chan []byte, 64),
		done: make(chan int, 1),
	}
	go p.readLoop()
	go p.wait()
	return p, nil
}

// readLoop drains the PTY master into output chunks. After the child exits
// the read returns an error (EIO on Linux once the slave side closes), which
// ends the loop and closes the output channel.
func (p *Proc) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := p.tty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.out <- chunk
		}
		if err != nil {
			close(p.out)
			return
		}
	}
}

func (p *Proc) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.done <- code
}

// Output returns the live output chunk stream.
func (p *Proc) Output() <-chan []byte { return p.out }

// Done yields the process exit code after Output closes.
func (p *Proc) Done() <-chan int { return p.done }

// Write forwards terminal input to the process.
func (p *Proc) Write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return fmt.Errorf("pty closed")
	}
	_, err := p.tty.Write(data)
	return err
}

// Resize changes the pseudo-terminal window size.
func (p *Proc) Resize(cols, rows uint16) error {
	return pty.Setsize(p.tty, &pty.Winsize{Cols: cols, Rows: rows})
}

// Signal sends sig to the process; it is a no-op once the process is gone.
func (p *Proc) Signal(sig syscall.Signal) {
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(sig)
	}
}

// Kill forcibly terminates the process.
func (p *Proc) Kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// Close releases the PTY master. Called by the registry once the output
// stream has drained.
func (p *Proc) Close() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if !p.closed {
		p.tty.Close()
		p.closed = true
	}
}
