package report

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"marketchat/internal/api"
	"marketchat/internal/conversation"
)

// EmptyPlaceholder is shown when the backend returns a report with no
// text; the panel never renders blank.
const EmptyPlaceholder = "The report came back empty."

// ErrNoActiveSession 还没有会话时的前置校验错误，直接提示用户
// ErrNoActiveSession is the validation notice raised when a report is
// requested before any conversation exists. No state changes.
var ErrNoActiveSession = errors.New("no active session: send a message first")

// State is the per-session report lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

// Backend covers the two report endpoints. api.Client satisfies it;
// GetReport signals a missing report with api.ErrReportNotFound.
type Backend interface {
	GetReport(ctx context.Context, sessionID string) (string, error)
	CreateReport(ctx context.Context, sessionID string) (string, error)
}

// Conversation is the slice of the conversation controller the report
// controller observes.
type Conversation interface {
	SessionID() string
	MessageCount() int
}

// cacheEntry memoizes the last report for the active session. At most one
// entry is alive; it dies on session switch or gets overwritten on
// regeneration. generatedAtMessageCount records how long the conversation
// was when the report was produced; it is kept for display but does not
// force regeneration (manual regeneration is the contract).
type cacheEntry struct {
	sessionID               string
	content                 string
	generatedAtMessageCount int
}

// Snapshot is the plain view handed to the rendering surface.
type Snapshot struct {
	State     State
	Content   string
	PanelOpen bool
}

// Controller 报告面板状态机：Idle → Loading → Ready|Error，
// 每个会话同一时间最多一个在途请求。
// Controller drives the report panel state machine: Idle → Loading →
// {Ready, Error}, re-entering Loading on every explicit request, with
// single-flight per session and stale-while-revalidate display.
type Controller struct {
	mu        sync.Mutex
	state     State
	content   string
	panelOpen bool
	cache     *cacheEntry
	// epoch is bumped on every invalidation; a request resolving under an
	// older epoch is discarded so a late report from a previous session
	// can never overwrite the cache of the current one.
	epoch uint64

	backend  Backend
	conv     Conversation
	logger   *zap.Logger
	onChange func()
}

func New(backend Backend, conv Conversation, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		backend: backend,
		conv:    conv,
		logger:  logger,
	}
}

// SetChangeCallback registers a listener invoked after state transitions.
func (c *Controller) SetChangeCallback(fn func()) {
	c.onChange = fn
}

// Snapshot returns the current panel view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Content: c.content, PanelOpen: c.panelOpen}
}

// Request fetches or generates the report for the active session:
// try the existing-report lookup first; a not-found answer selects the
// generation fallback, any other failure surfaces immediately. While
// loading, a previously cached report for the same session stays on
// screen instead of blanking the panel.
func (c *Controller) Request(ctx context.Context) error {
	sessionID := c.conv.SessionID()
	if sessionID == "" {
		return ErrNoActiveSession
	}

	c.mu.Lock()
	if c.state == StateLoading {
		// single-flight per session
		c.mu.Unlock()
		return nil
	}
	c.panelOpen = true
	c.state = StateLoading
	if c.cache == nil || c.cache.sessionID != sessionID {
		c.content = ""
	}
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()

	content, err := c.fetch(ctx, sessionID)

	c.mu.Lock()
	if c.epoch != epoch {
		// Superseded by a session switch while in flight; the
		// invalidation already reset the machine, discard this result.
		c.mu.Unlock()
		c.logger.Debug("discarding stale report result", zap.String("session_id", sessionID))
		return nil
	}
	if err != nil {
		c.state = StateError
		c.content = conversation.ErrorPrefix + err.Error()
		c.logger.Warn("report request failed", zap.String("session_id", sessionID), zap.Error(err))
	} else {
		if content == "" {
			content = EmptyPlaceholder
		}
		c.cache = &cacheEntry{
			sessionID:               sessionID,
			content:                 content,
			generatedAtMessageCount: c.conv.MessageCount(),
		}
		c.state = StateReady
		c.content = content
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) fetch(ctx context.Context, sessionID string) (string, error) {
	content, err := c.backend.GetReport(ctx, sessionID)
	if err == nil {
		return content, nil
	}
	if errors.Is(err, api.ErrReportNotFound) {
		// No report yet: not an error, generate one.
		return c.backend.CreateReport(ctx, sessionID)
	}
	return "", err
}

// Close hides the panel without discarding the cached content; the cache
// lives until session switch or regeneration.
func (c *Controller) Close() {
	c.mu.Lock()
	c.panelOpen = false
	c.mu.Unlock()
	c.notify()
}

// Invalidate 会话切换时整体清空缓存与展示状态
// Invalidate clears the cache and display state, called on session
// switch. In-flight requests from before the invalidation resolve into
// the void.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.content = ""
	c.state = StateIdle
	c.epoch++
	c.mu.Unlock()
	c.notify()
}

// CachedFor reports whether a report is memoized for the session and at
// which message count it was generated.
func (c *Controller) CachedFor(sessionID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil || c.cache.sessionID != sessionID {
		return 0, false
	}
	return c.cache.generatedAtMessageCount, true
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
