package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ServerConfig 聊天后端的连接配置
// ServerConfig is the connection configuration of the chat backend.
type ServerConfig struct {
	BaseURL   string `json:"base_url"`
	TimeoutMS int    `json:"timeout_ms"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// DirectConfig points the chat channel straight at an OpenAI-compatible
// endpoint, bypassing the backend proxy. Enabled means the session
// directory and report panel are unavailable.
type DirectConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

// ChatConfig tunes the conversation controller.
type ChatConfig struct {
	// RefreshDebounceMS is the delay before the session directory is
	// refreshed after a completed send, letting server-side session
	// bookkeeping settle.
	RefreshDebounceMS int `json:"refresh_debounce_ms"`
	ContextTokenLimit int `json:"context_token_limit"`
}

// MarketConfig tunes the market-overview dashboard.
type MarketConfig struct {
	Category    string   `json:"category"`
	NewsLimit   int      `json:"news_limit"`
	Symbols     []string `json:"symbols"`
	CacheTTLSec int      `json:"cache_ttl_sec"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type Config struct {
	Server  ServerConfig  `json:"server"`
	Direct  DirectConfig  `json:"direct"`
	Chat    ChatConfig    `json:"chat"`
	Market  MarketConfig  `json:"market"`
	Storage StorageConfig `json:"storage"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:   "http://127.0.0.1:8000",
			TimeoutMS: 120000,
		},
		Chat: ChatConfig{
			RefreshDebounceMS: 500,
			ContextTokenLimit: 24000,
		},
		Market: MarketConfig{
			Category:  "general",
			NewsLimit: 12,
			// Index proxies: the backend quotes ETFs instead of raw
			// indices because that is what the data vendor serves
			// reliably.
			Symbols:     []string{"IVV", "QQQ", "DIA", "IWM", "TLT"},
			CacheTTLSec: 15,
		},
		Storage: StorageConfig{
			BaseDir: "~/.marketchat",
		},
	}
}

// Load 读取配置：默认值 → 配置文件（可含注释）→ 环境变量覆盖
// Load resolves configuration: defaults, then the config file (JSON with
// comments allowed), then MARKETCHAT_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("MARKETCHAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func findConfigPath() string {
	candidates := []string{"marketchat.config.json"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".marketchat", "config.json"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	if err := json.Unmarshal(cleaned, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_BASE_URL")); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_USERNAME")); v != "" {
		cfg.Server.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_PASSWORD")); v != "" {
		cfg.Server.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_TIMEOUT_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid MARKETCHAT_TIMEOUT_MS: %q", v)
		}
		cfg.Server.TimeoutMS = n
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_DIRECT_BASE_URL")); v != "" {
		cfg.Direct.Enabled = true
		cfg.Direct.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_DIRECT_MODEL")); v != "" {
		cfg.Direct.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_DIRECT_API_KEY")); v != "" {
		cfg.Direct.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETCHAT_STORAGE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	return nil
}

func normalize(cfg *Config) error {
	cfg.Server.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = Default().Server.BaseURL
	}
	if cfg.Server.TimeoutMS <= 0 {
		cfg.Server.TimeoutMS = Default().Server.TimeoutMS
	}
	if cfg.Chat.RefreshDebounceMS <= 0 {
		cfg.Chat.RefreshDebounceMS = Default().Chat.RefreshDebounceMS
	}
	if cfg.Chat.ContextTokenLimit <= 0 {
		cfg.Chat.ContextTokenLimit = Default().Chat.ContextTokenLimit
	}
	if strings.TrimSpace(cfg.Market.Category) == "" {
		cfg.Market.Category = Default().Market.Category
	}
	if cfg.Market.NewsLimit <= 0 {
		cfg.Market.NewsLimit = Default().Market.NewsLimit
	}
	if len(cfg.Market.Symbols) == 0 {
		cfg.Market.Symbols = Default().Market.Symbols
	}
	if cfg.Market.CacheTTLSec <= 0 {
		cfg.Market.CacheTTLSec = Default().Market.CacheTTLSec
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if storageDir == "" {
		storageDir, err = expandPath(Default().Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = storageDir
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
