// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// nanochat is a self-hosted backend for a browser chat client talking
// to NanoGPT. It proxies streaming completions, keeps conversations on
// disk, serves the model catalog, and records usage telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/nanochat/internal/config"
	"github.com/jeranaias/nanochat/internal/models"
	"github.com/jeranaias/nanochat/internal/nanogpt"
	"github.com/jeranaias/nanochat/internal/server"
	"github.com/jeranaias/nanochat/internal/storage"
	"github.com/jeranaias/nanochat/internal/telemetry"
	"github.com/jeranaias/nanochat/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default ~/.nanochat/config.toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// ========================================================================
	// CONFIGURATION
	// ========================================================================

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	config.SetGlobal(cfg)

	if err := nanogpt.ValidateCredentials(cfg.NanoGPT.APIKey); err != nil {
		// The server still starts; chat requests report the problem.
		log.Printf("CONFIG_WARNING | %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// STORAGE
	// ========================================================================

	if err := os.MkdirAll(cfg.Storage.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	blobs, err := storage.NewFileBlobStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	convs := storage.NewConversationStore(blobs)
	prefs := storage.NewPreferenceStore(blobs)

	usage, err := telemetry.Open(cfg.Storage.TelemetryPath)
	if err != nil {
		// Telemetry is best-effort end to end.
		log.Printf("TELEMETRY_OPEN_ERROR | path=%s err=%v", cfg.Storage.TelemetryPath, err)
		usage = nil
	} else {
		defer usage.Close()
	}

	// ========================================================================
	// MODEL CATALOG
	// ========================================================================

	var source models.Source
	switch {
	case cfg.Models.Path != "":
		source = &models.FileSource{Path: cfg.Models.Path}
	case cfg.Models.URL != "":
		source = &models.HTTPSource{URL: cfg.Models.URL}
	}

	registry := models.NewRegistry(source)
	registry.Load(ctx)
	if cfg.Models.Path != "" {
		go func() {
			if err := registry.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("MODELS_WATCH_STOPPED | err=%v", err)
			}
		}()
	}

	// ========================================================================
	// TOOLS
	// ========================================================================

	// Brave when a key is configured, the keyless DuckDuckGo scrape
	// otherwise.
	toolbox := tools.NewRegistry()
	if cfg.Search.BraveAPIKey != "" {
		toolbox.Register(tools.BraveSearchTool(cfg.Search.BraveAPIKey))
	} else {
		toolbox.Register(tools.DuckDuckGoSearchTool())
	}

	// ========================================================================
	// SERVER
	// ========================================================================

	upstream := nanogpt.NewClient(nanogpt.Config{
		BaseURL: cfg.NanoGPT.BaseURL,
		APIKey:  cfg.NanoGPT.APIKey,
	})

	srv := server.NewServer(server.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		APIKey:   cfg.NanoGPT.APIKey,
		Upstream: upstream,
		Registry: registry,
		Convs:    convs,
		Prefs:    prefs,
		Usage:    usage,
		Toolbox:  toolbox,
	})

	limiter := server.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	return srv.Start(ctx, srv.Handler(limiter))
}
