package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"marketchat/internal/api"
	"marketchat/internal/market"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderChange 为涨跌幅着色
// RenderChange colorizes a percent-change cell
func RenderChange(change string, theme Theme) string {
	switch {
	case strings.HasPrefix(change, "+"):
		return theme.GainStyle.Render(change)
	case strings.HasPrefix(change, "-") && change != "-":
		return theme.LossStyle.Render(change)
	default:
		return theme.MutedStyle.Render(change)
	}
}

// RenderQuoteRow 渲染市场总览中的一行报价
// RenderQuoteRow renders one quote row of the market overview
func RenderQuoteRow(q api.SymbolQuote, theme Theme) string {
	name := q.Symbol
	if label := market.Labels[q.Symbol]; label != "" {
		name = fmt.Sprintf("%s (%s)", q.Symbol, label)
	}
	if q.Err != "" || q.Quote == nil {
		return fmt.Sprintf("  %-24s %s", name, theme.MutedStyle.Render("N/A"))
	}
	change := market.PercentChange(q.Quote.Current, q.Quote.PreviousClose)
	return fmt.Sprintf("  %-24s %10.2f  %s", name, q.Quote.Current, RenderChange(change, theme))
}
