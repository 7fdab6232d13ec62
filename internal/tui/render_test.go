package tui

import (
	"strings"
	"testing"

	"marketchat/internal/api"
)

func TestRenderMarkdown_Basic(t *testing.T) {
	input := "# Hello\n\nThis is **bold** text."
	result := RenderMarkdown(input, 80)
	if result == "" {
		t.Fatal("RenderMarkdown returned empty")
	}
	// Glamour 应该渲染了标题 / Glamour should have rendered the heading
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	if RenderMarkdown("", 80) != "" {
		t.Fatal("empty input should return empty")
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestRenderMarkdown_CodeBlock(t *testing.T) {
	input := "```go\nfunc main() {}\n```"
	result := RenderMarkdown(input, 80)
	if !strings.Contains(result, "func") {
		t.Fatalf("code block should contain 'func': %q", result)
	}
}

func TestRenderChange(t *testing.T) {
	theme := DarkTheme()

	tests := []struct {
		input  string
		expect string
	}{
		{"+1.23%", "+1.23%"},
		{"-0.45%", "-0.45%"},
		{"-", "-"},
	}
	for _, tt := range tests {
		got := RenderChange(tt.input, theme)
		if !strings.Contains(got, tt.expect) {
			t.Errorf("RenderChange(%q) should contain %q, got %q", tt.input, tt.expect, got)
		}
	}
}

func TestRenderQuoteRow(t *testing.T) {
	theme := DarkTheme()

	row := RenderQuoteRow(api.SymbolQuote{
		Symbol: "QQQ",
		Quote:  &api.Quote{Current: 481.2, PreviousClose: 478.9},
	}, theme)
	if !strings.Contains(row, "QQQ") || !strings.Contains(row, "NASDAQ 100") {
		t.Fatalf("row should name the symbol and its index label: %q", row)
	}
	if !strings.Contains(row, "481.20") {
		t.Fatalf("row should contain the price: %q", row)
	}

	failed := RenderQuoteRow(api.SymbolQuote{Symbol: "XXXX", Err: "quote failed"}, theme)
	if !strings.Contains(failed, "N/A") {
		t.Fatalf("failed quote should render N/A: %q", failed)
	}
}
