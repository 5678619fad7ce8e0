package agentstream

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 100 * time.Millisecond

// Follower tails per-session stream-json event logs. Agents that append
// their events to a file rather than a dedicated pipe get the same
// Framer -> StatusMachine pipeline: each write to the log is debounced,
// newly appended bytes are read, and complete records are fed to the
// session's machine.
type Follower struct {
	mu    sync.Mutex
	tails map[string]*tail
	clk   clock.Clock
	sink  Sink
	log   *zap.Logger
}

type tail struct {
	sessionID string
	path      string
	fsWatcher *fsnotify.Watcher
	machine   *StatusMachine
	cancel    chan struct{}

	offset  int64
	pending []byte // trailing partial line carried to the next read
}

// NewFollower creates a follower. clk may be nil to use the wall clock.
func NewFollower(sink Sink, clk clock.Clock, log *zap.Logger) *Follower {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Follower{
		tails: make(map[string]*tail),
		clk:   clk,
		sink:  sink,
		log:   log,
	}
}

// Follow starts tailing path for the given session. The file may not exist
// yet; its directory is watched and the tail picks the file up on creation.
// Content already present is consumed immediately.
func (f *Follower) Follow(sessionID, path string) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(path)); err != nil {
		fsW.Close()
		return err
	}

	t := &tail{
		sessionID: sessionID,
		path:      path,
		fsWatcher: fsW,
		machine:   NewStatusMachine(),
		cancel:    make(chan struct{}),
	}

	f.mu.Lock()
	if old, ok := f.tails[sessionID]; ok {
		close(old.cancel)
		old.fsWatcher.Close()
	}
	f.tails[sessionID] = t
	f.mu.Unlock()

	go f.tailLoop(t)
	return nil
}

// Unfollow stops tailing a session's event log.
func (f *Follower) Unfollow(sessionID string) {
	f.mu.Lock()
	t, ok := f.tails[sessionID]
	if ok {
		delete(f.tails, sessionID)
	}
	f.mu.Unlock()

	if ok {
		close(t.cancel)
		t.fsWatcher.Close()
	}
}

// Shutdown stops all tails.
func (f *Follower) Shutdown() {
	f.mu.Lock()
	tails := f.tails
	f.tails = make(map[string]*tail)
	f.mu.Unlock()

	for _, t := range tails {
		close(t.cancel)
		t.fsWatcher.Close()
	}
}

// tailLoop processes fsnotify events with debouncing.
func (f *Follower) tailLoop(t *tail) {
	timer := f.clk.Timer(debounceInterval)
	timer.Stop()
	defer timer.Stop()

	// Catch up on anything written before the watch started. All reads
	// happen on this goroutine; offset and carry state are never shared.
	f.readNew(t)

	for {
		select {
		case <-t.cancel:
			return

		case event, ok := <-t.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(debounceInterval)
			}

		case <-timer.C:
			f.readNew(t)

		case err, ok := <-t.fsWatcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("event log watch error", zap.String("session", t.sessionID), zap.Error(err))
		}
	}
}

// readNew consumes bytes appended since the last read and feeds complete
// lines through the session's status machine.
func (f *Follower) readNew(t *tail) {
	file, err := os.Open(t.path)
	if err != nil {
		return // Not created yet.
	}
	defer file.Close()

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(file)
	if err != nil && len(data) == 0 {
		return
	}
	t.offset += int64(len(data))
	t.pending = append(t.pending, data...)

	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			return
		}
		line := t.pending[:i]
		t.pending = t.pending[i+1:]

		rec, ok := frameLine(line)
		if !ok {
			continue
		}
		for _, n := range t.machine.Apply(rec) {
			f.sink(t.sessionID, n)
		}
	}
}
