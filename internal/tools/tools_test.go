package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
	"github.com/DidelotK/mcp-hubspot/internal/cache"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
)

func TestResolveLimitDefaults(t *testing.T) {
	n, err := resolveLimit(map[string]any{}, 10)
	if err != nil || n != 10 {
		t.Fatalf("got %d, %v, want 10, nil", n, err)
	}
}

func TestResolveLimitClampsAbove100(t *testing.T) {
	n, err := resolveLimit(map[string]any{"limit": float64(500)}, 10)
	if err != nil || n != 100 {
		t.Fatalf("got %d, %v, want 100, nil", n, err)
	}
}

func TestResolveLimitRejectsBelowOne(t *testing.T) {
	_, err := resolveLimit(map[string]any{"limit": float64(0)}, 10)
	if apierr.KindOf(err) != apierr.KindClient {
		t.Fatalf("expected KindClient, got %v", apierr.KindOf(err))
	}
}

func TestResolveLimitRejectsNonNumber(t *testing.T) {
	_, err := resolveLimit(map[string]any{"limit": "ten"}, 10)
	if apierr.KindOf(err) != apierr.KindClient {
		t.Fatalf("expected KindClient, got %v", apierr.KindOf(err))
	}
}

func TestStringPropertiesCoercesTypes(t *testing.T) {
	out := stringProperties(map[string]any{
		"name":   "Acme",
		"amount": float64(42),
		"ratio":  float64(1.5),
		"active": true,
	})
	if out["name"] != "Acme" || out["amount"] != "42" || out["ratio"] != "1.5" || out["active"] != "true" {
		t.Fatalf("unexpected coercion: %+v", out)
	}
}

func TestValidateRequiredArgument(t *testing.T) {
	schema := schemaObj(map[string]any{"deal_name": strProp("x")}, "deal_name")
	if err := validate(schema, map[string]any{}); apierr.KindOf(err) != apierr.KindClient {
		t.Fatalf("expected missing-arg error, got %v", err)
	}
	if err := validate(schema, map[string]any{"deal_name": "Acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	schema := schemaObj(map[string]any{"limit": numProp("x")})
	if err := validate(schema, map[string]any{"limit": "ten"}); apierr.KindOf(err) != apierr.KindClient {
		t.Fatalf("expected type error, got %v", err)
	}
}

func TestExtractPredicateQuoted(t *testing.T) {
	value, exact := extractPredicate(`find "Acme Renewal" deals`)
	if value != "Acme Renewal" || !exact {
		t.Fatalf("got %q, %v", value, exact)
	}
}

func TestExtractPredicateBareWords(t *testing.T) {
	value, exact := extractPredicate("acme renewal")
	if value != "acme renewal" || exact {
		t.Fatalf("got %q, %v", value, exact)
	}
}

func TestExtractPredicateEmpty(t *testing.T) {
	value, exact := extractPredicate("")
	if value != "" || exact {
		t.Fatalf("got %q, %v", value, exact)
	}
}

func newTestDeps(t *testing.T, handler http.HandlerFunc) *Deps {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	crmClient, err := crm.New("test-key", srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("crm.New: %v", err)
	}
	memCache, err := cache.New(100, time.Minute)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	embedManager := embedx.NewManager(crmClient, embedx.NewHashEmbedder(32), "hash-test")

	return &Deps{
		CRM:               crmClient,
		Cache:             memCache,
		Embed:             embedManager,
		APIKey:            "test-key",
		EmbeddingsEnabled: true,
		ToolTimeout:       5 * time.Second,
	}
}

func TestAnyIndexReadyFalseBeforeBuild(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})
	if anyIndexReady(deps, []crm.EntityKind{crm.KindContact}) {
		t.Fatal("expected false before any build")
	}
}

func TestAnyIndexReadyTrueAfterBuild(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"id": "1", "properties": map[string]string{"firstname": "Ada"}},
		}})
	})
	if _, err := deps.Embed.Build(context.Background(), []crm.EntityKind{crm.KindContact}, 0, ""); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !anyIndexReady(deps, []crm.EntityKind{crm.KindContact}) {
		t.Fatal("expected true after build")
	}
}

func TestHybridSearchFallsBackToAPIWhenIndexNotReady(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"id": "1", "properties": map[string]string{"dealname": "Acme Renewal"}},
		}})
	})

	hits, err := hybridSearch(context.Background(), deps, "Acme", []crm.EntityKind{crm.KindDeal}, 5, 0.7, 0)
	if err != nil {
		t.Fatalf("hybridSearch: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "1" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestHybridSearchErrorsWhenNoStrategyAvailable(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	_, err := hybridSearch(context.Background(), deps, "", []crm.EntityKind{crm.KindContact}, 5, 0.7, 0)
	if apierr.KindOf(err) != apierr.KindClient {
		t.Fatalf("expected KindClient, got %v", apierr.KindOf(err))
	}
}

func TestRegisterWiresAllEighteenTools(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	reg := mcpcore.NewRegistry()
	Register(reg, deps)

	if got := len(reg.List()); got != 18 {
		t.Fatalf("registered %d tools, want 18", got)
	}
}

func TestDispatchListContactsEndToEnd(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"id": "1", "properties": map[string]string{"firstname": "Ada", "lastname": "Lovelace"}},
		}})
	})

	reg := mcpcore.NewRegistry()
	Register(reg, deps)
	dispatcher := mcpcore.NewDispatcher(reg, "test", "v0")

	params, _ := json.Marshal(map[string]any{"name": "list_hubspot_contacts", "arguments": map[string]any{}})
	resp := dispatcher.Handle(context.Background(), mcpcore.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	result, ok := resp.Result.(mcpcore.CallToolResult)
	if !ok {
		t.Fatalf("result not a CallToolResult: %#v", resp.Result)
	}
	if result.IsError {
		t.Fatalf("expected success, got error: %+v", result)
	}
}

func TestDispatchSemanticSearchDisabledReturnsErrorResult(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})
	deps.EmbeddingsEnabled = false

	reg := mcpcore.NewRegistry()
	Register(reg, deps)
	dispatcher := mcpcore.NewDispatcher(reg, "test", "v0")

	params, _ := json.Marshal(map[string]any{"name": "semantic_search_hubspot", "arguments": map[string]any{"query": "ada"}})
	resp := dispatcher.Handle(context.Background(), mcpcore.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	result := resp.Result.(mcpcore.CallToolResult)
	if !result.IsError {
		t.Fatal("expected IsError=true when embeddings disabled")
	}
}

func TestDispatchUpdateDealRejectsEmptyProperties(t *testing.T) {
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	reg := mcpcore.NewRegistry()
	Register(reg, deps)
	dispatcher := mcpcore.NewDispatcher(reg, "test", "v0")

	params, _ := json.Marshal(map[string]any{"name": "update_deal", "arguments": map[string]any{
		"deal_id": "1", "properties": map[string]any{},
	}})
	resp := dispatcher.Handle(context.Background(), mcpcore.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	result := resp.Result.(mcpcore.CallToolResult)
	if !result.IsError {
		t.Fatal("expected IsError=true for empty properties")
	}
}

func TestDispatchLoadEntitiesUsesSpecArgumentNames(t *testing.T) {
	var sawMaxEntitiesZero bool
	deps := newTestDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/crm/v3/properties/") {
			json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
			return
		}
		if r.URL.Query().Get("limit") == "100" && r.URL.Query().Get("after") == "" {
			sawMaxEntitiesZero = true
		}
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"id": "1", "properties": map[string]string{"dealname": "Acme Renewal"}},
		}})
	})

	reg := mcpcore.NewRegistry()
	Register(reg, deps)
	dispatcher := mcpcore.NewDispatcher(reg, "test", "v0")

	params, _ := json.Marshal(map[string]any{"name": "load_hubspot_entities_to_cache", "arguments": map[string]any{
		"entity_type": "deal", "build_embeddings": true, "max_entities": float64(0),
	}})
	resp := dispatcher.Handle(context.Background(), mcpcore.JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	result, ok := resp.Result.(mcpcore.CallToolResult)
	if !ok || result.IsError {
		t.Fatalf("expected success, got %#v", resp.Result)
	}
	if !sawMaxEntitiesZero {
		t.Fatal("expected at least one CRM page fetch (max_entities=0 must not suppress the call)")
	}
	if !anyIndexReady(deps, []crm.EntityKind{crm.KindDeal}) {
		t.Fatal("expected build_embeddings=true to build the deal index")
	}
}

func TestWithTimeoutZeroMeansNoDeadline(t *testing.T) {
	deps := &Deps{ToolTimeout: 0}
	ctx, cancel := withTimeout(context.Background(), deps)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("expected no deadline when ToolTimeout is 0")
	}
}

func TestWithTimeoutAppliesDeadline(t *testing.T) {
	deps := &Deps{ToolTimeout: time.Second}
	ctx, cancel := withTimeout(context.Background(), deps)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline when ToolTimeout is set")
	}
}
