package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketchat/internal/api"
	"marketchat/internal/config"
	"marketchat/internal/conversation"
	"marketchat/internal/market"
	"marketchat/internal/repl"
	"marketchat/internal/report"
	"marketchat/internal/session"
	"marketchat/internal/storage"
	"marketchat/internal/tui"
)

func main() {
	var (
		configPath string
		useTUI     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.BoolVar(&useTUI, "tui", false, "Run the full-screen TUI instead of the REPL")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "init storage dir failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Storage.BaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	client := api.NewClient(cfg.Server)

	var backend conversation.ChatBackend = client
	if cfg.Direct.Enabled {
		direct, err := api.NewDirectClient(cfg.Direct)
		if err != nil {
			fmt.Fprintf(os.Stderr, "init direct provider failed: %v\n", err)
			os.Exit(1)
		}
		backend = direct
		logger.Info("direct provider enabled",
			zap.String("base_url", cfg.Direct.BaseURL), zap.String("model", direct.Model()))
	}

	mirror, err := storage.NewMirror(cfg.Storage.BaseDir)
	if err != nil {
		// The mirror is a convenience cache; run without it.
		logger.Warn("local mirror unavailable", zap.Error(err))
		fmt.Fprintf(os.Stderr, "local mirror unavailable: %v\n", err)
	}

	convOpts := conversation.Options{
		Backend:      backend,
		Logger:       logger,
		RefreshDelay: time.Duration(cfg.Chat.RefreshDebounceMS) * time.Millisecond,
	}
	if mirror != nil {
		convOpts.Mirror = mirror
		defer func() { _ = mirror.Close() }()
	}
	conv := conversation.New(convOpts)

	reports := report.New(client, conv, logger)

	var dirMirror session.Mirror
	if mirror != nil {
		dirMirror = mirror
	}
	directory := session.NewDirectory(client, conv, reports, dirMirror, logger)
	conv.SetRefreshFunc(func() { directory.Refresh(context.Background()) })
	directory.SeedFromMirror()

	marketClient := market.NewClient(client, cfg.Market, logger)

	if cfg.Server.Username != "" && cfg.Server.Password != "" {
		if err := client.Login(context.Background(), cfg.Server.Username, cfg.Server.Password); err != nil {
			logger.Warn("login failed", zap.String("username", cfg.Server.Username), zap.Error(err))
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		}
	}

	if useTUI {
		err = tui.Run(tui.Deps{
			Conv:       conv,
			Directory:  directory,
			Reports:    reports,
			Market:     marketClient,
			TokenLimit: cfg.Chat.ContextTokenLimit,
			ServerName: serverName(cfg),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	input, inputErr := repl.NewLineInput(filepath.Join(cfg.Storage.BaseDir, "repl.history"))
	if inputErr != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", inputErr)
	}
	defer input.Close()

	loop := repl.NewLoop(conv, directory, reports, marketClient, client, input, cfg.Chat.ContextTokenLimit)
	if err := loop.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 生产级 zap 日志，写入存储目录避免污染终端界面
// newLogger builds a production zap logger writing into the storage dir so
// log lines never bleed into the REPL or the alt screen.
func newLogger(baseDir string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{filepath.Join(baseDir, "marketchat.log")}
	logCfg.ErrorOutputPaths = logCfg.OutputPaths
	if level := strings.TrimSpace(os.Getenv("MARKETCHAT_LOG_LEVEL")); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid MARKETCHAT_LOG_LEVEL %q: %w", level, err)
		}
		logCfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return logCfg.Build()
}

func serverName(cfg config.Config) string {
	if cfg.Direct.Enabled {
		return "direct:" + cfg.Direct.Model
	}
	return strings.TrimPrefix(strings.TrimPrefix(cfg.Server.BaseURL, "https://"), "http://")
}
