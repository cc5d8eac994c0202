package mcp

import (
	"github.com/urfv/yandex-tracker-mcp/internal/jsonrpc"
	"github.com/urfv/yandex-tracker-mcp/internal/modules"
)

type Request = jsonrpc.Request
type Response = jsonrpc.Response
type Error = jsonrpc.Error

const (
	ParseError            = jsonrpc.ParseError
	InvalidRequest        = jsonrpc.InvalidRequest
	MethodNotFound        = jsonrpc.MethodNotFound
	InvalidParams         = jsonrpc.InvalidParams
	InternalError         = jsonrpc.InternalError
	ErrPermissionDenied   = jsonrpc.ErrPermissionDenied
	ErrUsageLimitExceeded = jsonrpc.ErrUsageLimitExceeded
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2025-03-26"

// MCP Protocol Types
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

type ClientCapabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type SamplingCapability struct{}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ToolsListResult struct {
	Tools []modules.Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallResult = modules.ToolCallResult
type ContentBlock = modules.ContentBlock
