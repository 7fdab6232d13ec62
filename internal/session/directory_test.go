package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketchat/internal/api"
	"marketchat/internal/chat"
	"marketchat/internal/conversation"
)

type fakeBackend struct {
	mu       sync.Mutex
	sessions []api.Session
	listErr  error
	history  map[string][]chat.Message
	histErr  error
	block    chan struct{}
}

func (f *fakeBackend) ListSessions(ctx context.Context) ([]api.Session, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, f.listErr
}

func (f *fakeBackend) SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history[sessionID], nil
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeInvalidator) Invalidate() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeInvalidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type nopChat struct{}

func (nopChat) Chat(ctx context.Context, messages []chat.Message, sessionID string) (string, error) {
	return "ok", nil
}

func newFixture(backend *fakeBackend) (*Directory, *conversation.Controller, *fakeInvalidator) {
	conv := conversation.New(conversation.Options{Backend: nopChat{}})
	reports := &fakeInvalidator{}
	return NewDirectory(backend, conv, reports, nil, nil), conv, reports
}

func TestRefreshReplacesList(t *testing.T) {
	backend := &fakeBackend{sessions: []api.Session{{ID: "a"}, {ID: "b"}}}
	d, _, _ := newFixture(backend)

	d.Refresh(context.Background())
	if got := d.Sessions(); len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestRefreshFailureKeepsOldList(t *testing.T) {
	backend := &fakeBackend{sessions: []api.Session{{ID: "a"}}}
	d, _, _ := newFixture(backend)
	d.Refresh(context.Background())

	backend.mu.Lock()
	backend.listErr = errors.New("server down")
	backend.mu.Unlock()
	d.Refresh(context.Background())

	if got := d.Sessions(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("stale list must survive a failed refresh: %+v", got)
	}
}

func TestSelectLoadsHistoryAndInvalidatesReports(t *testing.T) {
	backend := &fakeBackend{
		history: map[string][]chat.Message{
			"s-2": {
				{Role: chat.RoleSystem, Content: chat.DefaultSystemPrompt},
				{Role: chat.RoleUser, Content: "tsla?"},
				{Role: chat.RoleAssistant, Content: "flat"},
			},
		},
	}
	d, conv, reports := newFixture(backend)

	d.Select(context.Background(), "s-2")
	if conv.SessionID() != "s-2" {
		t.Fatalf("active session not switched: %q", conv.SessionID())
	}
	if conv.MessageCount() != 3 {
		t.Fatalf("history not loaded: %d messages", conv.MessageCount())
	}
	if reports.count() != 1 {
		t.Fatalf("report state must be invalidated once, got %d", reports.count())
	}
	if d.Loading() {
		t.Fatal("loading flag must be cleared")
	}
}

func TestSelectEmptyHistoryRestoresPreamble(t *testing.T) {
	backend := &fakeBackend{history: map[string][]chat.Message{}}
	d, conv, _ := newFixture(backend)

	d.Select(context.Background(), "s-empty")
	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Role != chat.RoleSystem {
		t.Fatalf("empty history must fall back to the preamble: %+v", msgs)
	}
}

func TestSelectNoopForEmptyOrActiveID(t *testing.T) {
	backend := &fakeBackend{history: map[string][]chat.Message{}}
	d, conv, reports := newFixture(backend)
	conv.SetSessionID("s-1")
	conv.Append(chat.Message{Role: chat.RoleUser, Content: "keep me"})

	d.Select(context.Background(), "")
	d.Select(context.Background(), "s-1")

	if conv.MessageCount() != 2 {
		t.Fatalf("no-op select must not touch the conversation: %d", conv.MessageCount())
	}
	if reports.count() != 0 {
		t.Fatal("no-op select must not invalidate reports")
	}
}

func TestSelectFailureKeepsCurrentSession(t *testing.T) {
	backend := &fakeBackend{histErr: errors.New("boom")}
	d, conv, reports := newFixture(backend)
	conv.SetSessionID("s-1")
	conv.Append(chat.Message{Role: chat.RoleUser, Content: "still here"})

	d.Select(context.Background(), "s-2")

	if conv.SessionID() != "s-1" {
		t.Fatalf("failed switch must keep the prior session: %q", conv.SessionID())
	}
	if conv.MessageCount() != 2 {
		t.Fatal("failed switch must keep the prior transcript")
	}
	if reports.count() != 0 {
		t.Fatal("failed switch must not invalidate reports")
	}
	if d.Loading() {
		t.Fatal("loading flag must be cleared after failure")
	}
}

func TestStartNewMintsFreshSession(t *testing.T) {
	backend := &fakeBackend{}
	d, conv, reports := newFixture(backend)
	conv.SetSessionID("old")
	conv.Append(chat.Message{Role: chat.RoleUser, Content: "bye"})

	id := d.StartNew()
	if id == "" || id == "old" {
		t.Fatalf("want a fresh id, got %q", id)
	}
	if conv.SessionID() != id {
		t.Fatalf("conversation must adopt the new id: %q", conv.SessionID())
	}
	if conv.MessageCount() != 1 {
		t.Fatal("new session must start from the preamble")
	}
	if reports.count() != 1 {
		t.Fatal("new session must invalidate report state")
	}
}

// slowFirstBackend stalls the first call on a gate so a later call can
// overtake it; subsequent calls answer immediately with different data.
type slowFirstBackend struct {
	mu        sync.Mutex
	calls     int
	firstGate chan struct{}
}

func (b *slowFirstBackend) nextCall() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.calls
}

func (b *slowFirstBackend) ListSessions(ctx context.Context) ([]api.Session, error) {
	if b.nextCall() == 1 {
		<-b.firstGate
		return []api.Session{{ID: "slow"}}, nil
	}
	return []api.Session{{ID: "fast"}}, nil
}

func (b *slowFirstBackend) SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if b.nextCall() == 1 {
		<-b.firstGate
	}
	return []chat.Message{
		{Role: chat.RoleSystem, Content: chat.DefaultSystemPrompt},
		{Role: chat.RoleUser, Content: "history of " + sessionID},
	}, nil
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	backend := &slowFirstBackend{firstGate: make(chan struct{})}
	conv := conversation.New(conversation.Options{Backend: nopChat{}})
	d := NewDirectory(backend, conv, &fakeInvalidator{}, nil, nil)

	// The slow refresh is issued first but resolves last.
	slowDone := make(chan struct{})
	go func() {
		d.Refresh(context.Background())
		close(slowDone)
	}()
	time.Sleep(10 * time.Millisecond)

	d.Refresh(context.Background())
	close(backend.firstGate)
	<-slowDone

	if got := d.Sessions(); len(got) != 1 || got[0].ID != "fast" {
		t.Fatalf("slow stale refresh must not overwrite the newer list: %+v", got)
	}
}

func TestSupersededSelectIsDiscarded(t *testing.T) {
	backend := &slowFirstBackend{firstGate: make(chan struct{})}
	conv := conversation.New(conversation.Options{Backend: nopChat{}})
	d := NewDirectory(backend, conv, &fakeInvalidator{}, nil, nil)

	slowDone := make(chan struct{})
	go func() {
		d.Select(context.Background(), "s-old")
		close(slowDone)
	}()
	time.Sleep(10 * time.Millisecond)

	d.Select(context.Background(), "s-new")
	close(backend.firstGate)
	<-slowDone

	if conv.SessionID() != "s-new" {
		t.Fatalf("late resolution must not roll the session back: %q", conv.SessionID())
	}
	msgs := conv.Messages()
	if msgs[1].Content != "history of s-new" {
		t.Fatalf("late resolution must not replace the transcript: %+v", msgs)
	}
}

type fakeMirror struct {
	mu       sync.Mutex
	cached   []api.Session
	recorded [][]api.Session
	listErr  error
}

func (m *fakeMirror) RecordSessions(sessions []api.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, sessions)
	return nil
}

func (m *fakeMirror) ListSessions() ([]api.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached, m.listErr
}

func TestSeedFromMirror(t *testing.T) {
	mirror := &fakeMirror{cached: []api.Session{{ID: "cached"}}}
	conv := conversation.New(conversation.Options{Backend: nopChat{}})
	d := NewDirectory(&fakeBackend{}, conv, &fakeInvalidator{}, mirror, nil)

	d.SeedFromMirror()
	if got := d.Sessions(); len(got) != 1 || got[0].ID != "cached" {
		t.Fatalf("seed not applied: %+v", got)
	}

	// A server refresh overwrites the seed.
	d.backend = &fakeBackend{sessions: []api.Session{{ID: "live"}}}
	d.Refresh(context.Background())
	if got := d.Sessions(); len(got) != 1 || got[0].ID != "live" {
		t.Fatalf("refresh must replace the seed: %+v", got)
	}
}

func TestRefreshRecordsToMirror(t *testing.T) {
	mirror := &fakeMirror{}
	conv := conversation.New(conversation.Options{Backend: nopChat{}})
	d := NewDirectory(&fakeBackend{sessions: []api.Session{{ID: "x"}}}, conv, &fakeInvalidator{}, mirror, nil)

	d.Refresh(context.Background())

	deadline := time.After(time.Second)
	for {
		mirror.mu.Lock()
		n := len(mirror.recorded)
		mirror.mu.Unlock()
		if n == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("refresh must mirror the list")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
