package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"marketchat/internal/chat"
	"marketchat/internal/contextmgr"
	"marketchat/internal/conversation"
	"marketchat/internal/market"
	"marketchat/internal/report"
	"marketchat/internal/session"
)

// ANSI colors for the prompt and role markers.
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiCyan   = "\x1b[36m"
)

// Auth is implemented by the backend client. Logout is best-effort on
// /quit-style exits; failures are ignored and the exit proceeds regardless.
type Auth interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
}

// Loop 持有 REPL 状态：各控制器、市场客户端与行输入
// Loop holds the REPL state: the conversation/session/report controllers,
// the market client, and the line input.
type Loop struct {
	Conv      *conversation.Controller
	Directory *session.Directory
	Reports   *report.Controller
	Market    *market.Client
	Backend   Auth
	Input     lineInput
	Out       io.Writer

	tokenLimit int
}

func NewLoop(conv *conversation.Controller, directory *session.Directory, reports *report.Controller, marketClient *market.Client, backend Auth, input lineInput, tokenLimit int) *Loop {
	if tokenLimit <= 0 {
		tokenLimit = 24000
	}
	return &Loop{
		Conv:       conv,
		Directory:  directory,
		Reports:    reports,
		Market:     marketClient,
		Backend:    backend,
		Input:      input,
		Out:        os.Stdout,
		tokenLimit: tokenLimit,
	}
}

// Run drives the REPL until /quit, Ctrl+D, or Ctrl+C.
func (l *Loop) Run(ctx context.Context) error {
	if l.Out == nil {
		l.Out = os.Stdout
	}
	fmt.Fprintln(l.Out, "marketchat — type /help for commands, Enter to send.")
	if l.Directory != nil {
		l.Directory.Refresh(ctx)
	}

	for {
		text, err := l.Input.ReadLine(l.prompt())
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "/") {
			if quit := l.runCommand(ctx, text); quit {
				return nil
			}
			continue
		}
		l.sendTurn(ctx, text)
	}
}

func (l *Loop) sendTurn(ctx context.Context, text string) {
	before := l.Conv.MessageCount()
	if useColor() {
		fmt.Fprintf(l.Out, "%sthinking…%s\n", ansiDim, ansiReset)
	}
	if !l.Conv.Send(ctx, text) {
		fmt.Fprintln(l.Out, "send skipped (another send is in flight)")
		return
	}
	messages := l.Conv.Messages()
	for _, msg := range messages[min(before+1, len(messages)):] {
		l.printMessage(msg)
	}
}

func (l *Loop) printMessage(msg chat.Message) {
	role := msg.Role
	if useColor() {
		color := ansiCyan
		if strings.HasPrefix(msg.Content, conversation.ErrorPrefix) {
			color = ansiRed
		}
		fmt.Fprintf(l.Out, "%s%s>%s %s\n", color, role, ansiReset, msg.Content)
		return
	}
	fmt.Fprintf(l.Out, "%s> %s\n", role, msg.Content)
}

// prompt is two lines: a dim context line, then the input marker.
func (l *Loop) prompt() string {
	tokens := contextmgr.EstimateTokens(l.Conv.Messages())
	sid := l.Conv.SessionID()
	if sid == "" {
		sid = "(new)"
	} else if len(sid) > 12 {
		sid = sid[:12] + "…"
	}
	line1 := fmt.Sprintf("context: %d/%d tokens · session: %s", tokens, l.tokenLimit, sid)
	if useColor() {
		return fmt.Sprintf("%s%s%s\n%s> %s", ansiDim, line1, ansiReset, ansiGreen, ansiReset)
	}
	return line1 + "\n> "
}

func useColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}
