package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketchat/internal/chat"
)

// ErrorPrefix marks assistant-role messages that carry a locally recovered
// transport failure instead of model output.
const ErrorPrefix = "Error: "

// ChatBackend is the remote chat endpoint consumed by the controller.
// api.Client and api.DirectClient both satisfy it.
type ChatBackend interface {
	Chat(ctx context.Context, messages []chat.Message, sessionID string) (string, error)
}

// TranscriptMirror receives a copy of the conversation after each
// completed turn. Mirroring is best-effort; failures are logged only.
type TranscriptMirror interface {
	SaveTranscript(sessionID string, messages []chat.Message) error
}

// Options configures a Controller.
type Options struct {
	Backend      ChatBackend
	Logger       *zap.Logger
	Mirror       TranscriptMirror
	RefreshDelay time.Duration
}

// Controller 持有一个会话的全部可变状态：消息序列、会话标识、
// 发送互斥与加载标志。所有方法都可以从 UI goroutine 并发调用。
// Controller owns the mutable state of one active conversation: the
// ordered message log, the session identity, the send guard, and the
// loading flag. There are no ambient globals; the rendering surface holds
// a Controller instance and pulls snapshots. All methods are safe for
// concurrent use from UI goroutines.
type Controller struct {
	mu        sync.Mutex
	messages  []chat.Message
	sessionID string
	loading   bool

	guard   sendGuard
	backend ChatBackend
	mirror  TranscriptMirror
	logger  *zap.Logger

	refresh  *debounce
	onChange func()
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := opts.RefreshDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	c := &Controller{
		messages: chat.NewConversation(),
		backend:  opts.Backend,
		mirror:   opts.Mirror,
		logger:   logger,
	}
	c.refresh = newDebounce(delay, nil)
	return c
}

// SetRefreshFunc wires the debounced session-directory refresh triggered
// after each completed send. Wiring happens once at startup.
func (c *Controller) SetRefreshFunc(fn func()) {
	c.refresh.setFunc(fn)
}

// SetChangeCallback registers a listener invoked after every state
// transition (messages appended, loading toggled). The rendering surface
// re-pulls snapshots from the callback.
func (c *Controller) SetChangeCallback(fn func()) {
	c.onChange = fn
}

// EnsureSession returns the current session identifier, generating one on
// first use. Idempotent until an explicit reset or switch.
func (c *Controller) EnsureSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSessionLocked()
}

func (c *Controller) ensureSessionLocked() string {
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}
	return c.sessionID
}

// SessionID returns the current identifier without generating one.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID replaces the current identifier (session switch).
func (c *Controller) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = strings.TrimSpace(id)
	c.mu.Unlock()
}

// Messages returns an immutable snapshot of the conversation.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.Clone(c.messages)
}

// MessageCount returns the current sequence length.
func (c *Controller) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Loading reports whether a send is awaiting its reply.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Sending reports whether the send guard is held.
func (c *Controller) Sending() bool {
	return c.guard.Busy()
}

// Append adds one message and returns the new snapshot.
func (c *Controller) Append(msg chat.Message) []chat.Message {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	snapshot := chat.Clone(c.messages)
	c.mu.Unlock()
	c.notify()
	return snapshot
}

// Load 整体替换消息序列；空序列退为默认前导消息（序列永不为空）
// Load replaces the sequence wholesale, used when switching sessions. An
// empty input substitutes the default one-element system preamble so the
// sequence is never empty.
func (c *Controller) Load(messages []chat.Message) {
	c.mu.Lock()
	if len(messages) == 0 {
		c.messages = chat.NewConversation()
	} else {
		c.messages = chat.Clone(messages)
	}
	c.mu.Unlock()
	c.notify()
}

// Reset restores the single system preamble, clears the loading flag, and
// releases the send guard even when it is not held. Any pending directory
// refresh is canceled with the state it was scheduled for.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.messages = chat.NewConversation()
	c.loading = false
	c.mu.Unlock()
	c.guard.Release()
	c.refresh.Stop()
	c.notify()
}

// Send runs one guarded chat turn:
// trim → acquire guard → append user turn → remote call → append reply
// (or a locally recovered error message) → release guard → schedule the
// debounced directory refresh. Returns false when the input was empty or
// a send was already in flight; in both cases nothing was appended.
func (c *Controller) Send(ctx context.Context, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if !c.guard.TryAcquire() {
		return false
	}

	c.mu.Lock()
	sessionID := c.ensureSessionLocked()
	c.messages = append(c.messages, chat.Message{Role: chat.RoleUser, Content: trimmed})
	c.loading = true
	outbound := chat.Clone(c.messages)
	c.mu.Unlock()
	c.notify()

	content, err := c.backend.Chat(ctx, outbound, sessionID)
	reply := chat.Message{Role: chat.RoleAssistant, Content: content}
	if err != nil {
		// Transport failures surface as a visible assistant message and
		// never escape the controller.
		reply.Content = ErrorPrefix + err.Error()
		c.logger.Warn("chat send failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	c.mu.Lock()
	c.messages = append(c.messages, reply)
	c.loading = false
	transcript := chat.Clone(c.messages)
	c.mu.Unlock()
	c.guard.Release()
	c.notify()

	if err == nil {
		c.mirrorTranscript(sessionID, transcript)
	}
	c.refresh.Schedule()
	return true
}

func (c *Controller) mirrorTranscript(sessionID string, messages []chat.Message) {
	if c.mirror == nil {
		return
	}
	go func() {
		if err := c.mirror.SaveTranscript(sessionID, messages); err != nil {
			c.logger.Warn("mirror transcript failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
