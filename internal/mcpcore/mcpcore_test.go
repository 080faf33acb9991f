package mcpcore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
)

func testDispatcher() (*Dispatcher, *Registry) {
	reg := NewRegistry()
	reg.Add(Tool{Name: "echo", Description: "echoes its input", InputSchema: map[string]any{"type": "object"}},
		func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{Markdown: "ok", RawJSON: "{}"}, nil
		})
	reg.Add(Tool{Name: "boom", Description: "always fails", InputSchema: map[string]any{"type": "object"}},
		func(ctx context.Context, args map[string]any) (Result, error) {
			return Result{}, apierr.New(apierr.KindClient, "bad input")
		})
	return NewDispatcher(reg, "test-server", "v1.0.0"), reg
}

func TestHandleInitialize(t *testing.T) {
	d, _ := testDispatcher()
	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "initialize"})

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result not a map: %#v", resp.Result)
	}
	if result["protocolVersion"] != "2025-06-18" {
		t.Fatalf("unexpected protocolVersion: %#v", result["protocolVersion"])
	}
}

func TestHandleToolsList(t *testing.T) {
	d, _ := testDispatcher()
	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/list"})

	result := resp.Result.(map[string]any)
	tools := result["tools"].([]Tool)
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
}

func TestHandleToolsCallSuccess(t *testing.T) {
	d, _ := testDispatcher()
	params, _ := json.Marshal(map[string]any{"name": "echo", "arguments": map[string]any{}})

	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	result, ok := resp.Result.(CallToolResult)
	if !ok {
		t.Fatalf("result not a CallToolResult: %#v", resp.Result)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result")
	}
	if len(result.Content) != 2 {
		t.Fatalf("expected 2 content items, got %d", len(result.Content))
	}
	if result.Content[0].Text != "ok" {
		t.Fatalf("markdown = %q, want ok", result.Content[0].Text)
	}
}

func TestHandleToolsCallExecutorErrorIsNotProtocolError(t *testing.T) {
	d, _ := testDispatcher()
	params, _ := json.Marshal(map[string]any{"name": "boom", "arguments": map[string]any{}})

	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})

	if resp.Error != nil {
		t.Fatalf("executor errors must not become JSON-RPC protocol errors, got %+v", resp.Error)
	}
	result, ok := resp.Result.(CallToolResult)
	if !ok {
		t.Fatalf("result not a CallToolResult: %#v", resp.Result)
	}
	if !result.IsError {
		t.Fatal("expected IsError=true")
	}
	if len(result.Content) != 2 {
		t.Fatalf("expected both markdown and JSON content items on error, got %d", len(result.Content))
	}
}

func TestHandleToolsCallUnknownTool(t *testing.T) {
	d, _ := testDispatcher()
	params, _ := json.Marshal(map[string]any{"name": "nonexistent", "arguments": map[string]any{}})

	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "tools/call", Params: params})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected -32601 error, got %+v", resp.Error)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	d, _ := testDispatcher()
	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected -32601 error, got %+v", resp.Error)
	}
}

func TestHandleNotificationReturnsEmptyResponse(t *testing.T) {
	d, _ := testDispatcher()
	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
	if resp.JSONRPC != "" || resp.Result != nil || resp.Error != nil {
		t.Fatalf("expected zero-value response for notification, got %+v", resp)
	}
}

func TestHandlePing(t *testing.T) {
	d, _ := testDispatcher()
	resp := d.Handle(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: float64(1), Method: "ping"})
	if resp.Error != nil {
		t.Fatalf("ping should not error: %+v", resp.Error)
	}
}

func TestRegistryAddOverwritesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Tool{Name: "dup"}, func(ctx context.Context, args map[string]any) (Result, error) { return Result{}, nil })
	reg.Add(Tool{Name: "dup", Description: "second"}, func(ctx context.Context, args map[string]any) (Result, error) { return Result{}, nil })

	tools := reg.List()
	if len(tools) != 1 {
		t.Fatalf("expected overwrite to not duplicate entries, got %d", len(tools))
	}
	if tools[0].Description != "second" {
		t.Fatalf("expected latest registration to win, got %q", tools[0].Description)
	}
}
