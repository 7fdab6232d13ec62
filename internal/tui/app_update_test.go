package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"marketchat/internal/api"
	"marketchat/internal/chat"
	"marketchat/internal/config"
	"marketchat/internal/conversation"
	"marketchat/internal/market"
	"marketchat/internal/report"
	"marketchat/internal/session"
)

type fakeService struct {
	reply    string
	sessions []api.Session
	history  map[string][]chat.Message
	report   string
}

func (f *fakeService) Chat(ctx context.Context, messages []chat.Message, sessionID string) (string, error) {
	return f.reply, nil
}

func (f *fakeService) ListSessions(ctx context.Context) ([]api.Session, error) {
	return f.sessions, nil
}

func (f *fakeService) SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return f.history[sessionID], nil
}

func (f *fakeService) GetReport(ctx context.Context, sessionID string) (string, error) {
	return f.report, nil
}

func (f *fakeService) CreateReport(ctx context.Context, sessionID string) (string, error) {
	return f.report, nil
}

func (f *fakeService) MarketOverview(ctx context.Context, category string, newsLimit int) (api.Overview, error) {
	return api.Overview{Quotes: []api.SymbolQuote{
		{Symbol: "QQQ", Quote: &api.Quote{Current: 480, PreviousClose: 475}},
	}}, nil
}

func (f *fakeService) QuoteSymbol(ctx context.Context, symbol string) (api.Quote, error) {
	return api.Quote{Current: 100, PreviousClose: 99}, nil
}

func newTestApp(svc *fakeService) App {
	conv := conversation.New(conversation.Options{Backend: svc})
	reports := report.New(svc, conv, nil)
	dir := session.NewDirectory(svc, conv, reports, nil, nil)
	mkt := market.NewClient(svc, config.MarketConfig{Symbols: []string{"QQQ"}}, nil)

	app := NewApp(Deps{
		Conv:       conv,
		Directory:  dir,
		Reports:    reports,
		Market:     mkt,
		TokenLimit: 24000,
	})
	app.width, app.height = 100, 30
	app.relayout()
	app.syncPanels()
	return app
}

func TestAppUpdate_PanelSwitch(t *testing.T) {
	app := newTestApp(&fakeService{reply: "hi"})

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated := m.(App)
	if updated.activePanel != PanelMarket {
		t.Fatalf("expected market panel, got %v", updated.activePanel)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated = m.(App)
	if updated.activePanel != PanelChat {
		t.Fatalf("expected chat panel, got %v", updated.activePanel)
	}
}

func TestAppUpdate_SendFlow(t *testing.T) {
	svc := &fakeService{reply: "AAPL closed higher today."}
	app := newTestApp(svc)

	app.input.SetValue("how did AAPL do?")
	m, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated := m.(App)
	if cmd == nil {
		t.Fatal("expected a send command")
	}
	if updated.input.Value() != "" {
		t.Fatalf("composer should be cleared, got %q", updated.input.Value())
	}

	// Run the command synchronously; the fake backend answers immediately.
	if _, ok := cmd().(stateChangedMsg); !ok {
		t.Fatal("send command should yield stateChangedMsg")
	}

	transcript := updated.renderTranscript(80)
	if !strings.Contains(transcript, "how did AAPL do?") {
		t.Fatalf("transcript missing user message: %q", transcript)
	}
	if !strings.Contains(transcript, "AAPL closed higher") {
		t.Fatalf("transcript missing assistant reply: %q", transcript)
	}
}

func TestAppUpdate_EmptyComposerDoesNotSend(t *testing.T) {
	app := newTestApp(&fakeService{reply: "hi"})

	app.input.SetValue("   ")
	m, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("whitespace-only input must not produce a send command")
	}
	updated := m.(App)
	if updated.deps.Conv.MessageCount() != 1 {
		t.Fatalf("conversation should still hold only the preamble, got %d", updated.deps.Conv.MessageCount())
	}
}

func TestAppUpdate_SessionFocusAndSelect(t *testing.T) {
	svc := &fakeService{
		reply:    "hi",
		sessions: []api.Session{{ID: "s-1", Name: "apple"}, {ID: "s-2", Name: "tesla"}},
		history: map[string][]chat.Message{
			"s-2": {
				{Role: chat.RoleSystem, Content: chat.DefaultSystemPrompt},
				{Role: chat.RoleUser, Content: "tsla?"},
			},
		},
	}
	app := newTestApp(svc)
	app.deps.Directory.Refresh(context.Background())

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	updated := m.(App)
	if updated.focus != FocusSessions {
		t.Fatal("ctrl+s should focus the session list")
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated = m.(App)
	if updated.sessionCursor != 1 {
		t.Fatalf("cursor should move to 1, got %d", updated.sessionCursor)
	}

	m, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyEnter})
	updated = m.(App)
	if updated.focus != FocusComposer {
		t.Fatal("selecting should return focus to the composer")
	}
	if cmd == nil {
		t.Fatal("expected a select command")
	}
	cmd()
	if got := updated.deps.Conv.SessionID(); got != "s-2" {
		t.Fatalf("active session should be s-2, got %q", got)
	}
}

func TestAppUpdate_ReportToggle(t *testing.T) {
	svc := &fakeService{reply: "hi", report: "# Outlook\n\nBullish."}
	app := newTestApp(svc)
	app.deps.Conv.SetSessionID("s-1")

	m, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	updated := m.(App)
	if cmd == nil {
		t.Fatal("expected a report command")
	}
	cmd()

	snap := updated.deps.Reports.Snapshot()
	if !snap.PanelOpen || snap.State != report.StateReady {
		t.Fatalf("report should be open and ready, got %+v", snap)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyEsc})
	updated = m.(App)
	if updated.deps.Reports.Snapshot().PanelOpen {
		t.Fatal("esc should close the report panel")
	}
}

func TestAppUpdate_MarketMsg(t *testing.T) {
	app := newTestApp(&fakeService{reply: "hi"})

	m, _ := app.Update(marketMsg{Overview: api.Overview{
		Quotes: []api.SymbolQuote{{Symbol: "DIA", Quote: &api.Quote{Current: 390, PreviousClose: 388}}},
	}})
	updated := m.(App)
	view := updated.renderMarket()
	if !strings.Contains(view, "DIA") || !strings.Contains(view, "Dow Jones") {
		t.Fatalf("market view missing quote row: %q", view)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID(""); got != "(none)" {
		t.Fatalf("empty id: %q", got)
	}
	if got := shortID("abcdefghij"); got != "abcdefgh" {
		t.Fatalf("long id: %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short id: %q", got)
	}
}
