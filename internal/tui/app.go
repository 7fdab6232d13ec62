package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"marketchat/internal/api"
	"marketchat/internal/chat"
	"marketchat/internal/contextmgr"
	"marketchat/internal/conversation"
	"marketchat/internal/market"
	"marketchat/internal/report"
	"marketchat/internal/session"
)

// PanelID 面板标识
// PanelID identifies a main panel
type PanelID int

const (
	PanelChat PanelID = iota
	PanelMarket
)

// FocusID 当前键盘焦点
// FocusID identifies which region owns the keyboard
type FocusID int

const (
	FocusComposer FocusID = iota
	FocusSessions
)

// --- Tea Messages ---

// stateChangedMsg 控制器状态已变化，需要重绘
// stateChangedMsg tells the model to re-read controller state.
type stateChangedMsg struct{}

// noticeMsg 状态栏一次性提示
// noticeMsg is a one-shot status-bar notice.
type noticeMsg struct{ Text string }

// marketMsg 市场总览结果
// marketMsg carries a market overview result.
type marketMsg struct {
	Overview api.Overview
	Err      error
}

// Deps TUI 依赖的控制器集合
// Deps bundles the controllers the TUI drives.
type Deps struct {
	Conv       *conversation.Controller
	Directory  *session.Directory
	Reports    *report.Controller
	Market     *market.Client
	TokenLimit int
	ServerName string
}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	deps Deps

	// 布局 / Layout
	width  int
	height int
	ready  bool

	// 面板 / Panels
	activePanel PanelID
	focus       FocusID
	chatView    viewport.Model
	marketView  viewport.Model
	reportView  viewport.Model

	// 输入 / Input
	input textarea.Model

	// 侧边栏 / Sidebar
	sessionCursor int

	// 缓存的渲染输入 / Cached render inputs
	lastOverview api.Overview
	marketErr    string
	notice       string

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(deps Deps) App {
	ta := textarea.New()
	ta.Placeholder = "Ask about a stock… (enter to send, alt+enter for newline)"
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	if deps.TokenLimit <= 0 {
		deps.TokenLimit = 24000
	}

	return App{
		deps:        deps,
		activePanel: PanelChat,
		focus:       FocusComposer,
		input:       ta,
		theme:       DarkTheme(),
		keys:        DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, a.refreshCmd(), a.marketCmd(""))
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		a.syncPanels()
		return a, nil

	case stateChangedMsg:
		a.syncPanels()
		return a, nil

	case noticeMsg:
		a.notice = msg.Text
		return a, nil

	case marketMsg:
		if msg.Err != nil {
			a.marketErr = msg.Err.Error()
		} else {
			a.marketErr = ""
			a.lastOverview = msg.Overview
		}
		a.syncPanels()
		return a, nil
	}

	if a.focus == FocusComposer {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		var cmd tea.Cmd
		a.chatView, cmd = a.chatView.Update(msg)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

// handleKey 处理全局快捷键；handled=false 时交给输入区
// handleKey handles global keys; handled=false passes through to the input.
func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit, true

	case key.Matches(msg, a.keys.SwitchPanel):
		if a.activePanel == PanelChat {
			a.activePanel = PanelMarket
			return a, a.marketCmd(""), true
		}
		a.activePanel = PanelChat
		return a, nil, true

	case key.Matches(msg, a.keys.FocusSessions):
		if a.focus == FocusSessions {
			a.focus = FocusComposer
			a.input.Focus()
		} else {
			a.focus = FocusSessions
			a.input.Blur()
		}
		return a, nil, true

	case key.Matches(msg, a.keys.NewSession):
		id := a.deps.Directory.StartNew()
		a.notice = "new session " + shortID(id)
		a.syncPanels()
		return a, nil, true

	case key.Matches(msg, a.keys.ToggleReport):
		if a.deps.Reports.Snapshot().PanelOpen {
			a.deps.Reports.Close()
			a.syncPanels()
			return a, nil, true
		}
		return a, a.reportCmd(), true

	case key.Matches(msg, a.keys.RefreshList):
		return a, a.refreshCmd(), true

	case key.Matches(msg, a.keys.Cancel):
		if a.deps.Reports.Snapshot().PanelOpen {
			a.deps.Reports.Close()
			a.syncPanels()
			return a, nil, true
		}
		if a.focus == FocusSessions {
			a.focus = FocusComposer
			a.input.Focus()
			return a, nil, true
		}
		return a, nil, true
	}

	if a.focus == FocusSessions {
		sessions := a.deps.Directory.Sessions()
		switch msg.String() {
		case "up", "k":
			if a.sessionCursor > 0 {
				a.sessionCursor--
			}
			return a, nil, true
		case "down", "j":
			if a.sessionCursor < len(sessions)-1 {
				a.sessionCursor++
			}
			return a, nil, true
		case "enter":
			if a.sessionCursor < len(sessions) {
				id := sessions[a.sessionCursor].ID
				a.focus = FocusComposer
				a.input.Focus()
				return a, a.selectCmd(id), true
			}
			return a, nil, true
		}
		return a, nil, true
	}

	if key.Matches(msg, a.keys.Submit) && a.focus == FocusComposer {
		text := strings.TrimSpace(a.input.Value())
		if text == "" {
			return a, nil, true
		}
		if a.deps.Conv.Sending() {
			a.notice = "still waiting for the previous reply"
			return a, nil, true
		}
		a.input.Reset()
		a.notice = ""
		return a, a.sendCmd(text), true
	}

	return a, nil, false
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.width * 25 / 100
	if sidebarWidth < 20 {
		sidebarWidth = 20
	}
	if sidebarWidth > 40 {
		sidebarWidth = 40
	}
	if a.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := a.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}

	inputHeight := 5
	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - inputHeight - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs()
	panel := a.renderActivePanel(mainWidth, panelHeight)
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel, inputBox)

	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- Commands ---

func (a App) sendCmd(text string) tea.Cmd {
	conv := a.deps.Conv
	return func() tea.Msg {
		conv.Send(context.Background(), text)
		return stateChangedMsg{}
	}
}

func (a App) refreshCmd() tea.Cmd {
	dir := a.deps.Directory
	return func() tea.Msg {
		dir.Refresh(context.Background())
		return stateChangedMsg{}
	}
}

func (a App) selectCmd(id string) tea.Cmd {
	dir := a.deps.Directory
	return func() tea.Msg {
		dir.Select(context.Background(), id)
		return stateChangedMsg{}
	}
}

func (a App) reportCmd() tea.Cmd {
	reports := a.deps.Reports
	return func() tea.Msg {
		if err := reports.Request(context.Background()); err != nil {
			return noticeMsg{Text: err.Error()}
		}
		return stateChangedMsg{}
	}
}

func (a App) marketCmd(category string) tea.Cmd {
	m := a.deps.Market
	return func() tea.Msg {
		overview, err := m.Overview(context.Background(), category)
		return marketMsg{Overview: overview, Err: err}
	}
}

// --- Internal ---

func (a *App) relayout() {
	mainWidth := a.width
	panelHeight := a.height - 8
	if panelHeight < 3 {
		panelHeight = 3
	}

	if !a.ready {
		a.chatView = viewport.New(mainWidth, panelHeight)
		a.marketView = viewport.New(mainWidth, panelHeight)
		a.reportView = viewport.New(mainWidth, panelHeight)
		a.ready = true
	} else {
		a.chatView.Width, a.chatView.Height = mainWidth, panelHeight
		a.marketView.Width, a.marketView.Height = mainWidth, panelHeight
		a.reportView.Width, a.reportView.Height = mainWidth, panelHeight
	}

	a.input.SetWidth(mainWidth - 4)
}

// syncPanels 由控制器快照重建各面板内容
// syncPanels rebuilds panel contents from controller snapshots.
func (a *App) syncPanels() {
	if !a.ready {
		return
	}

	a.chatView.SetContent(a.renderTranscript(a.chatView.Width))
	a.chatView.GotoBottom()

	a.marketView.SetContent(a.renderMarket())

	snap := a.deps.Reports.Snapshot()
	if snap.PanelOpen {
		a.reportView.SetContent(a.renderReport(snap, a.reportView.Width-4))
	}
}

func (a App) renderTranscript(width int) string {
	var b strings.Builder
	for _, m := range a.deps.Conv.Messages() {
		switch m.Role {
		case chat.RoleSystem:
			continue
		case chat.RoleUser:
			b.WriteString(a.theme.UserStyle.Render("you") + "\n")
			b.WriteString(m.Content + "\n\n")
		case chat.RoleAssistant:
			b.WriteString(a.theme.TitleStyle.Render("assistant") + "\n")
			if strings.HasPrefix(m.Content, conversation.ErrorPrefix) {
				b.WriteString(a.theme.ErrorStyle.Render(m.Content) + "\n\n")
			} else {
				b.WriteString(RenderMarkdown(m.Content, width-2) + "\n\n")
			}
		}
	}
	if a.deps.Conv.Loading() {
		b.WriteString(a.theme.MutedStyle.Render("assistant is thinking…") + "\n")
	}
	return b.String()
}

func (a App) renderMarket() string {
	var b strings.Builder
	if a.marketErr != "" {
		b.WriteString(a.theme.ErrorStyle.Render("market data unavailable: "+a.marketErr) + "\n")
		return b.String()
	}
	b.WriteString(a.theme.TitleStyle.Render(" Indices") + "\n")
	for _, q := range a.lastOverview.Quotes {
		b.WriteString(RenderQuoteRow(q, a.theme) + "\n")
	}
	if len(a.lastOverview.News) > 0 {
		b.WriteString("\n" + a.theme.TitleStyle.Render(" News") + "\n")
		for _, n := range a.lastOverview.News {
			b.WriteString("  • " + n.Headline + "\n")
			if n.Source != "" {
				b.WriteString("    " + a.theme.MutedStyle.Render(n.Source) + "\n")
			}
		}
	}
	return b.String()
}

func (a App) renderReport(snap report.Snapshot, width int) string {
	switch snap.State {
	case report.StateLoading:
		if snap.Content != "" {
			// stale copy shown while the replacement loads
			return a.theme.MutedStyle.Render("refreshing report…") + "\n\n" +
				RenderMarkdown(snap.Content, width)
		}
		return a.theme.MutedStyle.Render("generating report…")
	case report.StateError:
		return a.theme.ErrorStyle.Render(snap.Content)
	case report.StateReady:
		return RenderMarkdown(snap.Content, width)
	default:
		return a.theme.MutedStyle.Render("no report yet")
	}
}

// --- Render methods ---

func (a App) renderTabs() string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelChat, "Chat"},
		{PanelMarket, "Market"},
	}

	var parts []string
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().
		Width(width).
		Height(height)

	// 报告面板覆盖在当前面板之上 / The report panel overlays the active panel.
	if a.deps.Reports.Snapshot().PanelOpen {
		return style.Render(a.theme.ReportStyle.Width(width - 2).Render(a.reportView.View()))
	}

	switch a.activePanel {
	case PanelMarket:
		return style.Render(a.marketView.View())
	default:
		return style.Render(a.chatView.View())
	}
}

func (a App) renderSidebar(width, height int) string {
	var parts []string

	parts = append(parts, a.theme.TitleStyle.Render(" MarketChat"))
	parts = append(parts, "")

	parts = append(parts, a.theme.TitleStyle.Render(" Sessions"))
	sessions := a.deps.Directory.Sessions()
	if len(sessions) == 0 {
		parts = append(parts, a.theme.MutedStyle.Render("  none yet"))
	}
	current := a.deps.Conv.SessionID()
	for i, s := range sessions {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = shortID(s.ID)
		}
		line := "  " + name
		if s.ID == current {
			line = "• " + name
		}
		if a.focus == FocusSessions && i == a.sessionCursor {
			line = a.theme.SelectedStyle.Render(line)
		}
		parts = append(parts, line)
	}
	if a.deps.Directory.Loading() {
		parts = append(parts, a.theme.MutedStyle.Render("  loading…"))
	}
	parts = append(parts, "")
	parts = append(parts, a.theme.MutedStyle.Render(" ctrl+s select · ctrl+n new"))
	parts = append(parts, a.theme.MutedStyle.Render(" ctrl+r report · tab market"))

	content := strings.Join(parts, "\n")

	return a.theme.SidebarStyle.
		Width(width).
		Height(height).
		Render(content)
}

func (a App) renderStatusBar(width int) string {
	tokens := contextmgr.EstimateTokens(a.deps.Conv.Messages())
	state := "ready"
	if a.deps.Conv.Sending() {
		state = "sending…"
	}

	left := fmt.Sprintf(" %s · session %s · %d/%d tokens",
		state, shortID(a.deps.Conv.SessionID()), tokens, a.deps.TokenLimit)
	right := a.notice
	if right == "" {
		right = a.deps.ServerName
	}
	right += "  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(bar)
}

func shortID(id string) string {
	if id == "" {
		return "(none)"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(deps Deps) error {
	app := NewApp(deps)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())

	// 控制器的异步变更通过 Program.Send 推回事件循环
	// Async controller changes are pushed back into the event loop.
	deps.Conv.SetChangeCallback(func() { p.Send(stateChangedMsg{}) })
	deps.Directory.SetChangeCallback(func() { p.Send(stateChangedMsg{}) })
	deps.Reports.SetChangeCallback(func() { p.Send(stateChangedMsg{}) })

	_, err := p.Run()
	return err
}
