// Package stdio implements the newline-delimited JSON-RPC transport (spec
// component C6): one request per line on os.Stdin, one response per line on
// os.Stdout, in the style of the teacher's bufio.Scanner stdin loop
// (cmd/at/main.go) generalized from a single-line prompt read to a
// continuous request/response loop.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
)

const maxLineBytes = 10 << 20 // 10 MiB, generous for a single tool call payload

// Serve reads one JSON-RPC request per line from r and writes one response
// per line to w, until ctx is canceled or r reaches EOF. A malformed line is
// answered with a parse-error response rather than terminating the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, dispatcher *mcpcore.Dispatcher) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	writer := bufio.NewWriter(w)
	defer writer.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req mcpcore.JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Warn("stdio: malformed request", "error", err)
			if writeErr := writeResponse(writer, mcpcore.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   &mcpcore.JSONRPCError{Code: -32700, Message: "Parse error"},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp := dispatcher.Handle(ctx, req)
		if req.IsNotification() {
			continue
		}

		if err := writeResponse(writer, resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio: read loop: %w", err)
	}
	return nil
}

func writeResponse(w *bufio.Writer, resp mcpcore.JSONRPCResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("stdio: marshal response: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return wrapWriteErr(err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return wrapWriteErr(err)
	}
	return w.Flush()
}

func wrapWriteErr(err error) error {
	if errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return fmt.Errorf("stdio: write response: %w", err)
}
