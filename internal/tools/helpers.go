package tools

import (
	"context"
	"strconv"
	"time"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
	"github.com/DidelotK/mcp-hubspot/internal/cache"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
)

// Deps wires every collaborator a tool executor needs. Owned for the whole
// process lifetime by the orchestrator (C9) and handed to Register once.
type Deps struct {
	CRM   *crm.Client
	Cache *cache.Cache
	Embed *embedx.Manager

	APIKey            string
	EmbeddingsEnabled bool
	ToolTimeout       time.Duration
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func argInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, apierr.New(apierr.KindClient, key+" must be a number")
	}
	return int(f), nil
}

func argFloat(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, apierr.New(apierr.KindClient, key+" must be a number")
	}
	return f, nil
}

// resolveLimit applies the shared boundary rule: limit > 100 is clamped to
// 100, limit < 1 is rejected as ClientError, absent limit uses def.
func resolveLimit(args map[string]any, def int) (int, error) {
	v, ok := args["limit"]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, apierr.New(apierr.KindClient, "limit must be a number")
	}
	n := int(f)
	if n < 1 {
		return 0, apierr.New(apierr.KindClient, "limit must be >= 1")
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}

// stringProperties coerces a JSON-decoded properties object (string, number
// or boolean leaves) into the map[string]string shape the CRM client wants.
func stringProperties(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			if float64(int64(val)) == val {
				out[k] = strconv.FormatInt(int64(val), 10)
			} else {
				out[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

// cachedCall routes a read-only tool through the shared TTL cache (spec
// §4.5: "All read-only tools go through C3"). The formatted Result is
// cached alongside the raw data since formatting is pure.
func cachedCall(d *Deps, method string, args map[string]any, loader func() (mcpcore.Result, error)) (mcpcore.Result, error) {
	key, err := cache.Key(method, args, d.APIKey)
	if err != nil {
		return mcpcore.Result{}, apierr.Wrap(apierr.KindInternal, "build cache key", err)
	}

	v, err := d.Cache.GetOrCompute(key, func() (any, error) {
		return loader()
	})
	if err != nil {
		return mcpcore.Result{}, err
	}
	return v.(mcpcore.Result), nil
}

func withTimeout(ctx context.Context, d *Deps) (context.Context, context.CancelFunc) {
	if d.ToolTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.ToolTimeout)
}
