package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiPkg "github.com/atende-io/atende/internal/api"
	"github.com/atende-io/atende/internal/bot"
	"github.com/atende-io/atende/internal/config"
	"github.com/atende-io/atende/internal/hub"
	"github.com/atende-io/atende/internal/knowledge"
	"github.com/atende-io/atende/internal/logring"
	"github.com/atende-io/atende/internal/provider"
	"github.com/atende-io/atende/internal/session"
	"github.com/atende-io/atende/internal/ticket"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ringSize := cfg.LogBuffer
	if ringSize <= 0 {
		ringSize = 2000
	}
	ring := logring.NewRing(ringSize)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logring.Tee(jsonHandler, ring))

	logger.Info("atended starting", "port", cfg.API.Port, "model", cfg.Generation.Model)

	// 1. Users and sessions
	sessions := session.NewStore(logger.With("component", "session"))
	for _, u := range cfg.Users {
		sessions.AddUser(u.Name, u.Email, u.Agent)
	}

	// 2. Knowledge index
	index, err := knowledge.NewIndex(cfg.Knowledge.Path, logger.With("component", "knowledge"))
	if err != nil {
		logger.Error("failed to open knowledge index", "path", cfg.Knowledge.Path, "error", err)
		os.Exit(1)
	}
	defer index.Close()

	// 3. Case directory, wired to reindex closed cases
	dir := ticket.NewDirectory(nil, sessions, logger.With("component", "ticket"))
	dir.SetCloseHook(func(c *ticket.Case) {
		if err := index.IndexCase(c); err != nil {
			logger.Error("failed to index closed case", "case", c.ID(), "error", err)
		}
	})

	// 4. Generation provider with retrieval
	var provOpts []provider.OllamaOption
	if cfg.Generation.BaseURL != "" {
		provOpts = append(provOpts, provider.WithBaseURL(cfg.Generation.BaseURL))
	}
	if cfg.Generation.Model != "" {
		provOpts = append(provOpts, provider.WithModel(cfg.Generation.Model))
	}
	provOpts = append(provOpts, provider.WithRetriever(index))
	gen := provider.NewOllama(provOpts...)
	logger.Info("generation provider initialized", "name", gen.Name())

	// 5. Bot controller
	var botOpts []bot.Option
	if cfg.Generation.IdleTimeout > 0 {
		botOpts = append(botOpts, bot.WithIdleTimeout(time.Duration(cfg.Generation.IdleTimeout)*time.Second))
	}
	ctrl := bot.NewController(gen, logger.With("component", "bot"), botOpts...)

	// 6. Real-time hub as the directory's notifier
	rt := hub.New(sessions, dir, ctrl, logger.With("component", "hub"))
	dir.SetNotifier(rt)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Scheduled knowledge rebuilds
	if cfg.Knowledge.Schedule != "" {
		refresher, err := knowledge.NewRefresher(index, dir, cfg.Knowledge.Schedule, logger.With("component", "knowledge"))
		if err != nil {
			logger.Error("invalid knowledge schedule", "schedule", cfg.Knowledge.Schedule, "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "knowledge-refresher", func() { refresher.Start(ctx) })
	}

	// 8. HTTP server (REST + websocket endpoint)
	srv := apiPkg.NewServer(sessions, dir, rt, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
	}, logger.With("component", "api"), ring)

	go safeGo(logger, "http-server", func() { srv.Start(ctx) })
	logger.Info("http server started", "port", cfg.API.Port)

	// 9. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("atended stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
