// Package main is the entry point for the session agent runtime server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessionagent/runtime/internal/config"
	"github.com/sessionagent/runtime/internal/dispatch"
	"github.com/sessionagent/runtime/internal/logging"
	"github.com/sessionagent/runtime/internal/provider"
	"github.com/sessionagent/runtime/internal/sandbox"
	"github.com/sessionagent/runtime/internal/server"
	"github.com/sessionagent/runtime/internal/storage"
	"github.com/sessionagent/runtime/internal/tool"
	"github.com/sessionagent/runtime/pkg/types"
)

var (
	port         = flag.Int("port", 8080, "Server port")
	directory    = flag.String("directory", "", "Config/project directory")
	fakeSandbox  = flag.Bool("fake-sandbox", false, "Use an in-memory fake sandbox client instead of the configured HTTP one")
	shareBaseURL = flag.String("share-base-url", "", "Base URL prefixed onto GitHub-export share links (empty uses a path-only /share prefix)")
	version      = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("agentserver %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logging.Init(logging.DefaultConfig())
	logger := logging.Logger

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to get working directory")
		}
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directories")
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	store := storage.New(paths.StoragePath())

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize some providers")
	}

	sandboxClient := newSandboxClient(appConfig, *fakeSandbox, logger)
	searchProvider := newSearchProvider(appConfig)

	lifecycle := dispatch.NewLifecycle(store, sandboxClient, providerReg, searchProvider, *shareBaseURL, logger)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = *port

	srv := server.New(serverConfig, lifecycle, logger)

	go func() {
		logger.Info().Int("port", *port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("server stopped")
}

// newSandboxClient picks the Sandbox Client (C8) transport: the real
// HTTP-backed client when an endpoint is configured, the in-memory fake
// when --fake-sandbox is passed (local development without a live
// sandbox service), or a not-configured warning with the fake as a
// fallback so the server still starts.
func newSandboxClient(cfg *types.Config, useFake bool, logger zerolog.Logger) sandbox.Client {
	if useFake {
		return sandbox.NewFake()
	}
	if cfg.Sandbox.Endpoint == "" {
		logger.Warn().Msg("no sandbox.endpoint configured; falling back to the in-memory fake sandbox client")
		return sandbox.NewFake()
	}
	timeout := 30 * time.Second
	if cfg.Sandbox.Timeout > 0 {
		timeout = time.Duration(cfg.Sandbox.Timeout) * time.Millisecond
	}
	return sandbox.NewHTTPClient(cfg.Sandbox.Endpoint, cfg.Sandbox.APIKey, timeout)
}

// newSearchProvider picks the web_search tool's backend: an HTTP search
// API when configured under the "web_search" provider entry, otherwise a
// provider that fails explicitly rather than a silently absent tool.
func newSearchProvider(cfg *types.Config) tool.SearchProvider {
	if pc, ok := cfg.Provider["web_search"]; ok && pc.BaseURL != "" {
		return tool.NewHTTPSearchProvider(pc.BaseURL, pc.APIKey)
	}
	return tool.NoSearchProvider{}
}
