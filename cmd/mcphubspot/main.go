package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/DidelotK/mcp-hubspot/internal/cache"
	"github.com/DidelotK/mcp-hubspot/internal/config"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
	"github.com/DidelotK/mcp-hubspot/internal/tools"
	"github.com/DidelotK/mcp-hubspot/internal/transport/httpsse"
	"github.com/DidelotK/mcp-hubspot/internal/transport/stdio"
)

var (
	name    = "mcp-hubspot"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version
	config.Version = version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("HUBSPOT_MCP_API_KEY is required")
	}

	crmClient, err := crm.New(cfg.APIKey, cfg.CRMBaseURL, time.Duration(cfg.CRMTimeoutSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to build CRM client: %w", err)
	}

	memCache, err := cache.New(cfg.CacheCapacity, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to build cache: %w", err)
	}

	var embedManager *embedx.Manager
	if cfg.EmbeddingsEnabled {
		embedManager = embedx.NewManager(crmClient, embedx.NewHashEmbedder(256), "hash-256")
	}

	deps := &tools.Deps{
		CRM:               crmClient,
		Cache:             memCache,
		Embed:             embedManager,
		APIKey:            cfg.APIKey,
		EmbeddingsEnabled: cfg.EmbeddingsEnabled,
		ToolTimeout:       time.Duration(cfg.ToolTimeoutSeconds) * time.Second,
	}

	registry := mcpcore.NewRegistry()
	tools.Register(registry, deps)

	dispatcher := mcpcore.NewDispatcher(registry, name, version)

	switch cfg.Transport {
	case "stdio":
		slog.Info("serving MCP over stdio")
		return stdio.Serve(ctx, os.Stdin, os.Stdout, dispatcher)
	case "sse", "http":
		slog.Info("serving MCP over HTTP+SSE", "host", cfg.Host, "port", cfg.Port)
		return httpsse.New(cfg, dispatcher, embedManager, memCache).Start(ctx)
	default:
		return fmt.Errorf("unknown transport %q: want stdio or sse", cfg.Transport)
	}
}
