// Package mcpcore is the shared JSON-RPC 2.0 dispatch core used by both
// transports (spec components C5/C6/C7's common handler). It is a
// generalization of a decorator-style tool registry into a flat value
// registry: Tool descriptors are immutable data, composition (cache lookup,
// formatting) lives in each handler, not in a class hierarchy.
package mcpcore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/DidelotK/mcp-hubspot/internal/apierr"
)

// JSON-RPC 2.0 envelope. See https://www.jsonrpc.org/specification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// IsNotification reports whether a request carries no ID (no response
// expected, per JSON-RPC 2.0).
func (r JSONRPCRequest) IsNotification() bool {
	return r.ID == nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Tool is the immutable descriptor the registry holds for each of the 18
// named procedures (spec §3 ToolDescriptor, minus the executor, which is
// kept out-of-band in the Registry so Tool stays JSON-serializable as-is).
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentItem is one element of a CallToolResult's content array.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the "result" value of a tools/call response: a
// Markdown text item followed by a fenced-JSON text item, regardless of
// whether the call succeeded (spec §6, §7 — "both representations are
// sent" even on error).
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Result is what a ToolHandler returns on success: the two halves the
// formatter produced.
type Result struct {
	Markdown string
	RawJSON  string
}

// ToolHandler executes one validated tool call. ctx carries the caller's
// cancellation (client disconnect / EOF); errors should be *apierr.Error so
// the dispatcher can classify them.
type ToolHandler func(ctx context.Context, args map[string]any) (Result, error)

type toolEntry struct {
	tool    Tool
	handler ToolHandler
}

// Registry holds the 18 tool descriptors and their executors. Immutable
// after startup registration; safe for concurrent read access by both
// transports.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]toolEntry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]toolEntry)}
}

// Add registers a tool descriptor and its handler. Intended to be called
// only during process startup (C9 wiring); not required to be safe against
// concurrent Add calls once the server is serving traffic.
func (r *Registry) Add(tool Tool, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.entries[tool.Name] = toolEntry{tool: tool, handler: handler}
}

// List returns every registered tool descriptor in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.entries[name].tool)
	}
	return tools
}

func (r *Registry) get(name string) (toolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Dispatcher is the shared handler core both transports call into.
type Dispatcher struct {
	registry      *Registry
	serverName    string
	serverVersion string
}

// NewDispatcher builds a Dispatcher over a fully-populated Registry.
func NewDispatcher(registry *Registry, serverName, serverVersion string) *Dispatcher {
	return &Dispatcher{registry: registry, serverName: serverName, serverVersion: serverVersion}
}

// Handle routes one JSON-RPC request. For notifications (no ID), the
// returned response is the zero value and must not be written to the
// transport.
func (d *Dispatcher) Handle(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	if req.IsNotification() {
		// Notifications (e.g. notifications/initialized) are fire-and-forget;
		// this server has no client-visible state that reacts to them.
		return JSONRPCResponse{}
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req.ID)
	case "ping":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return d.handleToolsList(req.ID)
	case "tools/call":
		return d.handleToolsCall(ctx, req.ID, req.Params)
	default:
		return d.errorResponse(req.ID, -32601, "Method not found: "+req.Method)
	}
}

func (d *Dispatcher) errorResponse(id any, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

func (d *Dispatcher) handleInitialize(id any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    d.serverName,
				"version": d.serverVersion,
			},
		},
	}
}

func (d *Dispatcher) handleToolsList(id any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  map[string]any{"tools": d.registry.List()},
	}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, id any, params json.RawMessage) JSONRPCResponse {
	var callParams struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeParams(params, &callParams); err != nil {
		return d.errorResponse(id, -32602, "Invalid params")
	}

	entry, ok := d.registry.get(callParams.Name)
	if !ok {
		return d.errorResponse(id, -32601, "Unknown tool: "+callParams.Name)
	}

	result, err := entry.handler(ctx, callParams.Arguments)
	if err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toErrorResult(err),
		}
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: CallToolResult{
			Content: []ContentItem{
				{Type: "text", Text: result.Markdown},
				{Type: "text", Text: result.RawJSON},
			},
		},
	}
}

// toErrorResult renders a failed tool call as a CallToolResult (not a
// protocol-level JSON-RPC error) carrying the ❌-prefixed Markdown plus a
// fenced-JSON block with the error's taxonomy kind, per spec §7: the
// error kind is preserved alongside the user-facing text.
func toErrorResult(err error) CallToolResult {
	kind := apierr.KindOf(err)

	data := map[string]any{
		"error":   string(kind),
		"message": err.Error(),
	}
	var apiErr *apierr.Error
	if e, ok := err.(*apierr.Error); ok {
		apiErr = e
		if apiErr.RetryAfter > 0 {
			data["retryAfter"] = apiErr.RetryAfter
		}
	}

	raw, _ := json.MarshalIndent(data, "", "  ")

	return CallToolResult{
		Content: []ContentItem{
			{Type: "text", Text: "❌ **" + string(kind) + "**: " + err.Error()},
			{Type: "text", Text: "```json\n" + string(raw) + "\n```"},
		},
		IsError: true,
	}
}
