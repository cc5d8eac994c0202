package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/go-faster/errors"

	"github.com/urfv/yandex-tracker-mcp/internal/jsonrpc"
	"github.com/urfv/yandex-tracker-mcp/internal/middleware"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

const maxLineSize = 4 << 20

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w until r is exhausted or ctx is cancelled. Requests are
// processed in order.
func (h *Handler) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, ok := h.processLine(ctx, line)
		if !ok {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return errors.Wrap(err, "write response")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read request")
	}
	return nil
}

// processLine handles one message. ok is false for notifications.
func (h *Handler) processLine(ctx context.Context, line []byte) (resp jsonrpc.Response, ok bool) {
	var req jsonrpc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		return jsonrpc.NewResponse(nil, nil, &jsonrpc.Error{Code: ParseError, Message: "Parse error"}), true
	}
	if req.JSONRPC != jsonrpc.Version || req.Method == "" {
		return jsonrpc.NewResponse(req.ID, nil, &jsonrpc.Error{Code: InvalidRequest, Message: "Invalid Request"}), true
	}

	ctx = middleware.WithRequestID(ctx, middleware.NewRequestID())
	observability.Debug("received stdio request", "method", req.Method, "id", req.ID)

	result, rpcErr := h.ProcessRequest(ctx, &req)
	if req.IsNotification() {
		return jsonrpc.Response{}, false
	}
	return jsonrpc.NewResponse(req.ID, result, rpcErr), true
}
