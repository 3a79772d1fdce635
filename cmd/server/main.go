// Package main provides the entry point for the chat relay server.
// The server streams Gemini generations, transcriptions and synthesized speech
// to browsers and keeps per-session history in a durable key-value store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/router-for-me/chatrelay/internal/api"
	"github.com/router-for-me/chatrelay/internal/api/handlers"
	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/convo"
	"github.com/router-for-me/chatrelay/internal/history"
	"github.com/router-for-me/chatrelay/internal/kv"
	"github.com/router-for-me/chatrelay/internal/logging"
	"github.com/router-for-me/chatrelay/internal/relay"
	"github.com/router-for-me/chatrelay/internal/upstream"
	"github.com/router-for-me/chatrelay/internal/upstream/gemini"
	"github.com/router-for-me/chatrelay/internal/upstream/genaisdk"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = 5 * time.Minute
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath  string
		showVersion bool
		checkOnly   bool
	)
	flag.StringVar(&configPath, "config", "", "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&checkOnly, "check", false, "Validate the configuration and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("chatrelay %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}
	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, configPath == "")
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	config.ApplyEnvOverrides(cfg, lookupEnv)

	warnings, err := config.ValidateConfig(cfg)
	for _, w := range warnings {
		log.Warnf("config: %s", w)
	}
	if err != nil {
		log.Errorf("invalid config: %v", err)
		os.Exit(1)
	}
	if checkOnly {
		fmt.Println("configuration OK")
		return
	}

	logging.ApplyConfigLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, configPath); err != nil {
		log.Errorf("chat relay exited: %v", err)
		os.Exit(1)
	}
}

// lookupEnv returns the first non-empty value among keys.
func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// run wires storage, the upstream provider and the HTTP server, serves until ctx
// is cancelled and then drains in-flight turns and pending history writes.
func run(ctx context.Context, cfg *config.Config, configPath string) error {
	if cfg.IsMetricsEnabled() {
		middleware.RegisterMetrics()
	}

	backend, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.GetDriver(), err)
	}
	defer func() {
		if errClose := backend.Close(); errClose != nil {
			log.Errorf("storage close error: %v", errClose)
		}
	}()
	log.Infof("history storage: %s", cfg.Storage.GetDriver())

	store := history.NewStore(backend, history.OptionsFromConfig(&cfg.History))
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	store.StartSweeper(sweepCtx, sweepInterval)

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create %s provider: %w", cfg.Gemini.GetBackend(), err)
	}
	log.Infof("upstream provider: %s (model %s)", provider.Name(), cfg.Gemini.GetModel())

	generation := &relay.Generation{
		Generator:           provider,
		Transcriber:         provider,
		Speech:              relay.NewSpeech(provider, &cfg.TTS),
		StrictTranscription: cfg.Gemini.StrictTranscription,
	}
	builder := convo.Builder{
		PreviewLength:  cfg.History.GetPreviewLength(),
		RecentMessages: cfg.History.GetContextMessages(),
	}
	server := api.NewServer(cfg,
		handlers.NewChatHandler(store, builder, generation, cfg.Gemini.GetModel()),
		handlers.NewHistoryHandler(store),
	)

	if configPath != "" {
		errWatch := config.Watch(ctx, configPath, func(next *config.Config) {
			config.ApplyEnvOverrides(next, lookupEnv)
			server.UpdateConfig(next)
		})
		if errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()
	log.Infof("chat relay listening on %s:%d", cfg.Host, cfg.Port)

	select {
	case err = <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errStop := server.Stop(shutdownCtx); errStop != nil {
		log.Errorf("%v", errStop)
	}
	if !middleware.ActiveConnections.WaitIdle(shutdownCtx.Done(), 0) {
		log.Warnf("shutdown timed out with %d active connections", middleware.ActiveConnections.Count())
	}
	if errFlush := store.Flush(shutdownCtx); errFlush != nil {
		log.Errorf("history flush: %v", errFlush)
	}
	return nil
}

func newProvider(ctx context.Context, cfg *config.Config) (upstream.Provider, error) {
	switch cfg.Gemini.GetBackend() {
	case config.BackendSDK:
		return genaisdk.New(ctx, cfg)
	default:
		return gemini.New(ctx, cfg)
	}
}
