package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	defaultCols = 80
	defaultRows = 24

	gracefulTimeout = 5 * time.Second
)

var (
	// ErrSessionNotFound is returned by operations that must surface an
	// unknown id (terminate, get). Write and resize never return it.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimit is returned when attach-create would exceed the
	// configured number of live sessions.
	ErrSessionLimit = errors.New("session limit reached")
)

// Config configures a Registry.
type Config struct {
	// Command is the argv used to spawn every agent process.
	Command []string
	// WorkDir is the default working directory when attach supplies none.
	WorkDir string
	// MaxSessions caps concurrently live sessions. Zero means no limit.
	MaxSessions int
	Logger      *zap.Logger

	// OnCreated fires after a session is registered and its viewer bound.
	OnCreated func(*Session)
	// OnExited fires after the exit notification has been forwarded and
	// the entry removed.
	OnExited func(id string, code int)
}

// Registry is the authoritative map from session id to live session. It is
// the single coordination point: every mutating operation on one session
// goes through that session's lock, so a buffer append can never race a
// replay snapshot.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession
	cfg      Config
	log      *zap.Logger
}

// liveSession pairs the metadata with the process, buffer, and the single
// attached viewer. mu serializes attach/write/resize/terminate against the
// output pump.
type liveSession struct {
	mu     sync.Mutex
	meta   *Session
	proc   *Proc
	buf    *OutputBuffer
	viewer Viewer
}

// NewRegistry creates a registry. The registry spawns nothing until the
// first attach of an unseen id.
func NewRegistry(cfg Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*liveSession),
		cfg:      cfg,
		log:      log,
	}
}

// AttachOrCreate binds viewer to the session with the given id. For a known
// id the buffered history is delivered as one replay payload before the
// viewer is bound, so no live chunk can precede or duplicate it. For an
// unseen id the agent process is spawned synchronously; on failure nothing
// is registered and the error is returned to the caller.
//
// A second attach replaces the previous viewer reference without closing or
// notifying the previous connection.
func (r *Registry) AttachOrCreate(id, workDir string, v Viewer) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("missing session id")
	}

	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return r.attach(ls, v), nil
	}
	return r.create(id, workDir, v)
}

func (r *Registry) attach(ls *liveSession, v Viewer) *Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// Snapshot before binding: chunks appended after this point reach the
	// viewer as live output, chunks before it only through the replay.
	if snap := ls.buf.Snapshot(); len(snap) > 0 {
		if err := v.SendReplay(snap); err != nil {
			r.log.Debug("replay delivery failed", zap.String("session", ls.meta.ID), zap.Error(err))
		}
	}
	ls.viewer = v
	return ls.meta
}

func (r *Registry) create(id, workDir string, v Viewer) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ls, ok := r.sessions[id]; ok {
		// Lost the race to another attach for the same id.
		return r.attach(ls, v), nil
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrSessionLimit
	}

	if workDir == "" {
		workDir = r.cfg.WorkDir
	}
	proc, err := StartProc(r.cfg.Command, workDir, defaultCols, defaultRows)
	if err != nil {
		return nil, err
	}

	meta := &Session{
		ID:        id,
		State:     StateRunning,
		WorkDir:   workDir,
		CreatedAt: time.Now().UTC(),
		Cols:      defaultCols,
		Rows:      defaultRows,
	}
	ls := &liveSession{
		meta:   meta,
		proc:   proc,
		buf:    NewOutputBuffer(BufferCap),
		viewer: v,
	}
	r.sessions[id] = ls

	// The registry is the sole subscriber to process output and exit,
	// established exactly once here. Delivery to whichever viewer happens
	// to be attached is decided chunk by chunk in the pump.
	go r.pump(ls)

	r.log.Info("session created", zap.String("session", id), zap.String("workDir", workDir))
	if r.cfg.OnCreated != nil {
		go r.cfg.OnCreated(meta)
	}
	return meta, nil
}

// pump forwards process output into the buffer and to the attached viewer,
// then handles exit: forward the notification, close the viewer, remove the
// entry.
func (r *Registry) pump(ls *liveSession) {
	for chunk := range ls.proc.Output() {
		ls.mu.Lock()
		ls.buf.Append(chunk)
		v := ls.viewer
		ls.mu.Unlock()
		// Append and viewer load are atomic with respect to attach, so a
		// replay snapshot either already contains this chunk or the viewer
		// was bound before it; either way the chunk is delivered once.
		if v != nil {
			if err := v.SendOutput(chunk); err != nil {
				r.log.Debug("live delivery failed", zap.String("session", ls.meta.ID), zap.Error(err))
			}
		}
	}

	code := <-ls.proc.Done()
	ls.proc.Close()

	ls.mu.Lock()
	ls.meta.State = StateExited
	v := ls.viewer
	ls.viewer = nil
	ls.mu.Unlock()

	if v != nil {
		v.SendExit(code)
		v.Close()
	}

	r.mu.Lock()
	delete(r.sessions, ls.meta.ID)
	r.mu.Unlock()

	r.log.Info("session exited", zap.String("session", ls.meta.ID), zap.Int("code", code))
	if r.cfg.OnExited != nil {
		r.cfg.OnExited(ls.meta.ID, code)
	}
}

// Write forwards terminal input to the session's process. Unknown ids are
// silently dropped.
func (r *Registry) Write(id string, data []byte) {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug("write to unknown session dropped", zap.String("session", id))
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if err := ls.proc.Write(data); err != nil {
		r.log.Debug("write failed", zap.String("session", id), zap.Error(err))
	}
}

// Resize changes the session's terminal size. Unknown ids are ignored.
func (r *Registry) Resize(id string, cols, rows uint16) {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if err := ls.proc.Resize(cols, rows); err != nil {
		r.log.Debug("resize failed", zap.String("session", id), zap.Error(err))
		return
	}
	ls.meta.Cols, ls.meta.Rows = cols, rows
}

// Detach clears the viewer reference, but only if v is still the bound
// viewer: a stale connection's disconnect must not displace a replacement.
// The process and buffer persist for later reattachment.
func (r *Registry) Detach(id string, v Viewer) {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.viewer == v {
		ls.viewer = nil
	}
}

// Terminate kills the session's process regardless of viewer state. The
// entry is removed by the pump once the process exit is observed.
func (r *Registry) Terminate(id string) error {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	ls.proc.Signal(syscall.SIGTERM)
	go func() {
		time.Sleep(gracefulTimeout)
		ls.proc.Kill()
	}()
	return nil
}

// Get returns a session's metadata.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return ls.meta, nil
}

// List returns all live sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	metas := lo.Map(lo.Values(r.sessions), func(ls *liveSession, _ int) *Session {
		return ls.meta
	})
	r.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas
}

// Shutdown terminates every live session, escalating to SIGKILL after the
// graceful timeout.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	procs := lo.Map(lo.Values(r.sessions), func(ls *liveSession, _ int) *Proc {
		return ls.proc
	})
	r.mu.RUnlock()

	for _, p := range procs {
		p.Signal(syscall.SIGTERM)
	}
	if len(procs) == 0 {
		return
	}
	time.Sleep(gracefulTimeout)
	for _, p := range procs {
		p.Kill()
	}
}
