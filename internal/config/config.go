// Package config holds the recognized server configuration (spec.md §6).
// Loading mechanics (env vars, CLI flags, files) are an external
// collaborator per spec.md's Non-goals; this package only defines the
// shape and, for parity with the teacher's ambient stack, a thin loader
// built on the same config library the teacher uses.
package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
)

// Service is the "<name>/<version>" string reported on /health.
// Set from cmd/mcphubspot/main.go at process start.
var Service = ""

// Version is the bare version string reported on /health's "version" field.
// Set from cmd/mcphubspot/main.go at process start, alongside Service.
var Version = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// APIKey is the HubSpot bearer token. Required for any tool call that
	// reaches the CRM; missing/empty fails with apierr.KindConfig.
	APIKey string `cfg:"api_key" log:"-"`

	// Transport selects "stdio" or "sse".
	Transport string `cfg:"transport" default:"stdio"`

	Host string `cfg:"host" default:"0.0.0.0"`
	Port string `cfg:"port" default:"8080"`

	// AuthKey is the shared secret for the SSE transport. Empty disables auth.
	AuthKey string `cfg:"auth_key" log:"-"`
	// AuthHeader is the header name carrying AuthKey.
	AuthHeader string `cfg:"auth_header" default:"X-API-Key"`

	CacheCapacity   int `cfg:"cache_capacity" default:"1000"`
	CacheTTLSeconds int `cfg:"cache_ttl_seconds" default:"300"`

	EmbeddingsEnabled bool `cfg:"embeddings_enabled" default:"true"`

	// FaissDataSecure, when false, exempts /faiss-data from auth.
	FaissDataSecure bool `cfg:"faiss_data_secure" default:"true"`
	// DataProtectionDisabled, when true, exempts admin endpoints from auth.
	DataProtectionDisabled bool `cfg:"data_protection_disabled" default:"false"`

	// CRMBaseURL overrides the default HubSpot API origin; used in tests
	// against a local httptest server.
	CRMBaseURL string `cfg:"crm_base_url"`

	// CRMTimeoutSeconds bounds every outbound CRM HTTP call (spec.md §5).
	CRMTimeoutSeconds int `cfg:"crm_timeout_seconds" default:"30"`

	// ToolTimeoutSeconds bounds tool-execution wall clock (spec.md §5).
	ToolTimeoutSeconds int `cfg:"tool_timeout_seconds" default:"60"`
}

// Load populates a Config from the environment (prefixed HUBSPOT_MCP_) and
// any configured file loader, matching the teacher's chu.Load call shape.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("HUBSPOT_MCP_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
