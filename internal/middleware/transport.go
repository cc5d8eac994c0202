package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/urfv/yandex-tracker-mcp/internal/jsonrpc"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// maxBodySize bounds a single JSON-RPC message.
const maxBodySize = 4 << 20

// RequestProcessor processes JSON-RPC requests.
// Implemented by the MCP handler.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *jsonrpc.Request) (any, *jsonrpc.Error)
}

// session represents an SSE connection session.
type session struct {
	id       string
	done     chan struct{}
	messages chan []byte
}

// transport manages SSE/Inline transport for MCP.
type transport struct {
	processor RequestProcessor
	sessions  map[string]*session
	mu        sync.RWMutex
}

// Transport creates an http.Handler that manages SSE and Inline JSON-RPC transport.
// It delegates request processing to the given RequestProcessor.
func Transport(processor RequestProcessor) http.Handler {
	return &transport{
		processor: processor,
		sessions:  make(map[string]*session),
	}
}

func (t *transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		t.handleSSE(w, r)
	case http.MethodPost:
		t.handleMessage(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *transport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		http.Error(w, "failed to generate session ID", http.StatusInternalServerError)
		return
	}
	s := &session{
		id:       hex.EncodeToString(idBytes),
		done:     make(chan struct{}),
		messages: make(chan []byte, 100),
	}

	t.mu.Lock()
	t.sessions[s.id] = s
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.sessions, s.id)
		t.mu.Unlock()
		close(s.done)
	}()

	// MCP SSE: the first event tells the client where to POST.
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp?sessionId=%s\n\n", s.id)
	flusher.Flush()
	observability.Debug("SSE connection established", "session", s.id)

	for {
		select {
		case msg := <-s.messages:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-r.Context().Done():
			observability.Debug("SSE connection closed", "session", s.id)
			return
		}
	}
}

func (t *transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		t.handleInlineMessage(w, r)
		return
	}

	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()

	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	req, rpcErr := readRequest(r)
	if rpcErr != nil {
		t.send(s, jsonrpc.NewResponse(nil, nil, rpcErr))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	observability.Debug("received request", "method", req.Method, "id", req.ID, "session", sessionID)

	result, rpcErr := t.processor.ProcessRequest(r.Context(), req)
	if !req.IsNotification() {
		t.send(s, jsonrpc.NewResponse(req.ID, result, rpcErr))
	}

	w.WriteHeader(http.StatusAccepted)
}

func (t *transport) handleInlineMessage(w http.ResponseWriter, r *http.Request) {
	req, rpcErr := readRequest(r)
	if rpcErr != nil {
		writeResponse(w, jsonrpc.NewResponse(nil, nil, rpcErr))
		return
	}

	observability.Debug("received inline request", "method", req.Method, "id", req.ID)

	result, rpcErr := t.processor.ProcessRequest(r.Context(), req)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, jsonrpc.NewResponse(req.ID, result, rpcErr))
}

func readRequest(r *http.Request) (*jsonrpc.Request, *jsonrpc.Error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ParseError, Message: "Failed to read body"}
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &jsonrpc.Error{Code: jsonrpc.ParseError, Message: "Parse error"}
	}
	if req.JSONRPC != jsonrpc.Version || req.Method == "" {
		return nil, &jsonrpc.Error{Code: jsonrpc.InvalidRequest, Message: "Invalid Request"}
	}
	return &req, nil
}

func writeResponse(w http.ResponseWriter, resp jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		observability.Warn("failed to write response", "error", err)
	}
}

func (t *transport) send(s *session, resp jsonrpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		observability.Warn("failed to marshal response", "error", err)
		return
	}
	select {
	case s.messages <- data:
	case <-s.done:
	default:
		observability.Warn("session message buffer full", "session", s.id)
	}
}
