package jsonrpc

// Version is the protocol version carried in every envelope.
const Version = "2.0"

// Request is a JSON-RPC 2.0 Request. A nil ID marks a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a JSON-RPC 2.0 Response
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// NewResponse builds a response carrying either result or rpcErr.
func NewResponse(id any, result any, rpcErr *Error) Response {
	if rpcErr != nil {
		return Response{JSONRPC: Version, ID: id, Error: rpcErr}
	}
	return Response{JSONRPC: Version, ID: id, Result: result}
}

// Error is a JSON-RPC 2.0 Error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC 2.0 standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server-defined error codes (-32000 ~ -32099)
const (
	ErrPermissionDenied   = -32001 // Tool not allowed for the caller
	ErrUsageLimitExceeded = -32002 // Daily usage limit exceeded
)
