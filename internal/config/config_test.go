package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.BaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected default base url: %q", cfg.Server.BaseURL)
	}
	if cfg.Chat.RefreshDebounceMS != 500 {
		t.Fatalf("unexpected default debounce: %d", cfg.Chat.RefreshDebounceMS)
	}
	if len(cfg.Market.Symbols) == 0 {
		t.Fatal("default market symbols must not be empty")
	}
}

func TestLoadFromFileWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	// chat backend
	"server": {
		"base_url": "http://example.test:9000/", /* trailing slash on purpose */
		"timeout_ms": 30000
	},
	"chat": {"refresh_debounce_ms": 250},
	"market": {"symbols": ["SPY"], "category": "forex"},
	"storage": {"base_dir": "` + strings.ReplaceAll(dir, `\`, `\\`) + `"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://example.test:9000" {
		t.Fatalf("trailing slash must be trimmed: %q", cfg.Server.BaseURL)
	}
	if cfg.Server.TimeoutMS != 30000 {
		t.Fatalf("timeout not applied: %d", cfg.Server.TimeoutMS)
	}
	if cfg.Chat.RefreshDebounceMS != 250 {
		t.Fatalf("debounce not applied: %d", cfg.Chat.RefreshDebounceMS)
	}
	if len(cfg.Market.Symbols) != 1 || cfg.Market.Symbols[0] != "SPY" {
		t.Fatalf("symbols not applied: %v", cfg.Market.Symbols)
	}
	// Untouched sections keep their defaults.
	if cfg.Market.NewsLimit != Default().Market.NewsLimit {
		t.Fatalf("news limit should stay default: %d", cfg.Market.NewsLimit)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Server.BaseURL != Default().Server.BaseURL {
		t.Fatalf("defaults not applied: %q", cfg.Server.BaseURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETCHAT_BASE_URL", "http://env.test:8111")
	t.Setenv("MARKETCHAT_USERNAME", "trader")
	t.Setenv("MARKETCHAT_PASSWORD", "hunter2")
	t.Setenv("MARKETCHAT_TIMEOUT_MS", "4321")
	t.Setenv("MARKETCHAT_DIRECT_BASE_URL", "http://llm.test/v1")
	t.Setenv("MARKETCHAT_DIRECT_MODEL", "gpt-4o-mini")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://env.test:8111" {
		t.Fatalf("env base url not applied: %q", cfg.Server.BaseURL)
	}
	if cfg.Server.Username != "trader" || cfg.Server.Password != "hunter2" {
		t.Fatal("env credentials not applied")
	}
	if cfg.Server.TimeoutMS != 4321 {
		t.Fatalf("env timeout not applied: %d", cfg.Server.TimeoutMS)
	}
	if !cfg.Direct.Enabled || cfg.Direct.Model != "gpt-4o-mini" {
		t.Fatalf("direct env not applied: %+v", cfg.Direct)
	}
}

func TestEnvInvalidTimeout(t *testing.T) {
	t.Setenv("MARKETCHAT_TIMEOUT_MS", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("invalid timeout must fail loudly")
	}
}

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"line comment", "{\n// note\n\"a\": 1}", "{\n\n\"a\": 1}"},
		{"block comment", `{"a": /* gone */ 1}`, `{"a":  1}`},
		{"slashes in string", `{"url": "http://x/y"}`, `{"url": "http://x/y"}`},
		{"escaped quote", `{"a": "say \"hi\" // not a comment"}`, `{"a": "say \"hi\" // not a comment"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(stripJSONComments([]byte(tt.input))); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := expandPath("~/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x") {
		t.Fatalf("got %q", got)
	}
}
