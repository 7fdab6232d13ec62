package repl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketchat/internal/market"
	"marketchat/internal/report"
	"marketchat/internal/tui"
)

// runCommand 处理 "/" 内建命令；返回 true 表示退出循环
// runCommand handles "/" built-in commands; returns true to quit the loop.
func (l *Loop) runCommand(ctx context.Context, input string) bool {
	rest := strings.TrimSpace(strings.TrimPrefix(input, "/"))
	parts := strings.SplitN(rest, " ", 2)
	command := strings.ToLower(strings.TrimSpace(parts[0]))
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "help", "":
		fmt.Fprintln(l.Out, strings.Join([]string{
			"Commands:",
			"  /help",
			"  /sessions            list known sessions",
			"  /switch <id>         switch to a session",
			"  /new                 start a fresh conversation",
			"  /reset               reset the current conversation",
			"  /report              open / regenerate the stock report",
			"  /close               close the report panel",
			"  /market [category]   market overview (quotes + news)",
			"  /quote SYM [SYM…]    realtime quotes",
			"  /login USER PASS     authenticate against the server",
			"  /logout              logout and quit",
			"  /quit",
		}, "\n"))
	case "sessions":
		l.printSessionList(ctx)
	case "switch", "resume":
		if args == "" {
			l.printSessionList(ctx)
			return false
		}
		l.Directory.Select(ctx, args)
		if l.Conv.SessionID() == args {
			fmt.Fprintf(l.Out, "Switched to session %s (%d messages)\n", args, l.Conv.MessageCount())
		} else {
			fmt.Fprintf(l.Out, "Could not switch to %s; staying on the current session.\n", args)
		}
	case "new":
		id := l.Directory.StartNew()
		fmt.Fprintf(l.Out, "New session: %s\n", id)
	case "reset":
		l.Conv.Reset()
		fmt.Fprintln(l.Out, "Conversation reset.")
	case "report":
		l.showReport(ctx)
	case "close":
		l.Reports.Close()
		fmt.Fprintln(l.Out, "Report panel closed.")
	case "market":
		l.showMarket(ctx, args)
	case "quote":
		l.showQuotes(ctx, strings.Fields(args))
	case "login":
		fields := strings.Fields(args)
		if len(fields) != 2 {
			fmt.Fprintln(l.Out, "Usage: /login USER PASS")
			return false
		}
		if l.Backend == nil {
			fmt.Fprintln(l.Out, "No server backend configured (direct mode).")
			return false
		}
		if err := l.Backend.Login(ctx, fields[0], fields[1]); err != nil {
			fmt.Fprintf(l.Out, "login failed: %v\n", err)
			return false
		}
		fmt.Fprintln(l.Out, "Logged in.")
	case "logout":
		if l.Backend != nil {
			// best-effort: the exit proceeds even when the server is gone
			if err := l.Backend.Logout(ctx); err != nil {
				fmt.Fprintf(l.Out, "logout request failed (ignored): %v\n", err)
			}
		}
		return true
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(l.Out, "Unknown command: /%s. Type /help for available commands.\n", command)
	}
	return false
}

func (l *Loop) printSessionList(ctx context.Context) {
	l.Directory.Refresh(ctx)
	sessions := l.Directory.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(l.Out, "No known sessions yet.")
		return
	}
	current := l.Conv.SessionID()
	fmt.Fprintln(l.Out, "Known sessions:")
	for _, s := range sessions {
		marker := " "
		if current != "" && current == s.ID {
			marker = "*"
		}
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = "-"
		}
		updated := formatSessionTime(s.UpdatedAt)
		fmt.Fprintf(l.Out, "  %s %s  name=%s  updated=%s\n", marker, s.ID, name, updated)
	}
	fmt.Fprintln(l.Out, "Use /switch <id> to change sessions.")
}

func (l *Loop) showReport(ctx context.Context) {
	if err := l.Reports.Request(ctx); err != nil {
		fmt.Fprintln(l.Out, err.Error())
		return
	}
	snap := l.Reports.Snapshot()
	switch snap.State {
	case report.StateReady:
		fmt.Fprintln(l.Out, tui.RenderMarkdown(snap.Content, 100))
	case report.StateError:
		fmt.Fprintln(l.Out, snap.Content)
	default:
		fmt.Fprintln(l.Out, "No report available.")
	}
}

func (l *Loop) showMarket(ctx context.Context, category string) {
	overview, err := l.Market.Overview(ctx, category)
	if err != nil {
		fmt.Fprintf(l.Out, "market overview failed: %v\n", err)
		return
	}
	for _, q := range overview.Quotes {
		label := market.Labels[q.Symbol]
		name := q.Symbol
		if label != "" {
			name = fmt.Sprintf("%s (%s)", q.Symbol, label)
		}
		if q.Err != "" || q.Quote == nil {
			fmt.Fprintf(l.Out, "  %-24s N/A\n", name)
			continue
		}
		change := market.PercentChange(q.Quote.Current, q.Quote.PreviousClose)
		fmt.Fprintf(l.Out, "  %-24s %10.2f  %s\n", name, q.Quote.Current, change)
	}
	for i, n := range overview.News {
		if i == 0 {
			fmt.Fprintln(l.Out, "News:")
		}
		foot := n.Source
		if n.Datetime > 0 {
			foot = strings.TrimSpace(foot + " · " + time.Unix(n.Datetime, 0).Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(l.Out, "  - %s (%s)\n", n.Headline, foot)
	}
}

func (l *Loop) showQuotes(ctx context.Context, symbols []string) {
	if len(symbols) == 0 {
		fmt.Fprintln(l.Out, "Usage: /quote SYM [SYM…]")
		return
	}
	for _, q := range l.Market.Quotes(ctx, symbols) {
		if q.Err != "" || q.Quote == nil {
			fmt.Fprintf(l.Out, "  %-8s N/A\n", q.Symbol)
			continue
		}
		fmt.Fprintf(l.Out, "  %-8s %10.2f  %s  (prev close %.2f)\n",
			q.Symbol, q.Quote.Current,
			market.PercentChange(q.Quote.Current, q.Quote.PreviousClose),
			q.Quote.PreviousClose)
	}
}

func formatSessionTime(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
