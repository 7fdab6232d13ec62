package session

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"marketchat/internal/api"
	"marketchat/internal/chat"
	"marketchat/internal/conversation"
)

// Backend covers the session endpoints of the chat service.
type Backend interface {
	ListSessions(ctx context.Context) ([]api.Session, error)
	SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Invalidator invalidates state derived from the active session; the
// report controller satisfies it.
type Invalidator interface {
	Invalidate()
}

// Mirror is the optional local cache of the directory list.
type Mirror interface {
	RecordSessions(sessions []api.Session) error
	ListSessions() ([]api.Session, error)
}

// Directory 维护已知会话列表并负责切换当前会话
// Directory holds the list of known sessions and switches the active one,
// resetting dependent state. List failures keep the previous list visible
// (stale-but-available); switch failures leave the prior session rendered
// with only the loading flag cleared.
type Directory struct {
	mu       sync.Mutex
	sessions []api.Session
	loading  bool
	// applied sequence numbers per logical channel; a response whose
	// sequence is older than the last applied one is discarded, so slow
	// out-of-order responses cannot roll the view backwards.
	refreshApplied uint64
	selectApplied  uint64

	refreshIssued atomic.Uint64
	selectIssued  atomic.Uint64

	conv     *conversation.Controller
	reports  Invalidator
	backend  Backend
	mirror   Mirror
	logger   *zap.Logger
	onChange func()
}

func NewDirectory(backend Backend, conv *conversation.Controller, reports Invalidator, mirror Mirror, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		backend: backend,
		conv:    conv,
		reports: reports,
		mirror:  mirror,
		logger:  logger,
	}
}

// SetChangeCallback registers a listener invoked when the list or the
// loading flag changes.
func (d *Directory) SetChangeCallback(fn func()) {
	d.onChange = fn
}

// Sessions returns a snapshot of the known session list.
func (d *Directory) Sessions() []api.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Session(nil), d.sessions...)
}

// Loading reports whether a session switch is in flight.
func (d *Directory) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

// SeedFromMirror pre-populates the list from the local cache so a cold
// start without connectivity still shows known sessions. Server responses
// overwrite the seed on the first refresh.
func (d *Directory) SeedFromMirror() {
	if d.mirror == nil {
		return
	}
	cached, err := d.mirror.ListSessions()
	if err != nil {
		d.logger.Debug("mirror session list unavailable", zap.Error(err))
		return
	}
	d.mu.Lock()
	if len(d.sessions) == 0 && len(cached) > 0 {
		d.sessions = cached
	}
	d.mu.Unlock()
	d.notify()
}

// Refresh 拉取会话列表；失败时记录日志并保留旧列表
// Refresh fetches the session list. On failure the error is logged and
// the previous list stays displayed; nothing is surfaced to the user.
// Concurrent refreshes are not deduplicated, but stale responses are
// discarded by sequence number.
func (d *Directory) Refresh(ctx context.Context) {
	seq := d.refreshIssued.Add(1)
	sessions, err := d.backend.ListSessions(ctx)
	if err != nil {
		d.logger.Warn("session list refresh failed", zap.Error(err))
		return
	}

	d.mu.Lock()
	if seq <= d.refreshApplied {
		d.mu.Unlock()
		d.logger.Debug("discarding stale session list", zap.Uint64("seq", seq))
		return
	}
	d.refreshApplied = seq
	d.sessions = sessions
	d.mu.Unlock()
	d.notify()

	if d.mirror != nil {
		go func() {
			if err := d.mirror.RecordSessions(sessions); err != nil {
				d.logger.Warn("mirror session list failed", zap.Error(err))
			}
		}()
	}
}

// Select switches the active session: fetch the target history, replace
// the conversation wholesale (default preamble when empty), move the
// session identity, and clear the memoized report state. A no-op when the
// id already is the active session. Fetch failures are logged and
// recovered locally; the prior session stays rendered.
func (d *Directory) Select(ctx context.Context, sessionID string) {
	if sessionID == "" || sessionID == d.conv.SessionID() {
		return
	}

	seq := d.selectIssued.Add(1)
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()
	d.notify()

	messages, err := d.backend.SessionMessages(ctx, sessionID)

	d.mu.Lock()
	d.loading = false
	if err != nil {
		d.mu.Unlock()
		d.logger.Warn("session switch failed", zap.String("session_id", sessionID), zap.Error(err))
		d.notify()
		return
	}
	if seq <= d.selectApplied {
		// A later switch resolved first; applying this one would jump the
		// UI back to an older target.
		d.mu.Unlock()
		d.logger.Debug("discarding superseded session switch", zap.String("session_id", sessionID))
		d.notify()
		return
	}
	d.selectApplied = seq
	d.mu.Unlock()

	d.conv.Load(messages)
	d.conv.SetSessionID(sessionID)
	d.reports.Invalidate()
	d.notify()
}

// StartNew discards all in-memory conversation state and begins a fresh
// session with a new identifier.
func (d *Directory) StartNew() string {
	d.conv.Reset()
	d.conv.SetSessionID("")
	id := d.conv.EnsureSession()
	d.reports.Invalidate()
	d.notify()
	return id
}

func (d *Directory) notify() {
	if d.onChange != nil {
		d.onChange()
	}
}
