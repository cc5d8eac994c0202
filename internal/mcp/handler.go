// Package mcp implements the MCP method surface on top of the module
// registry: initialize, tools/list and tools/call (including batch).
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfv/yandex-tracker-mcp/internal/broker"
	"github.com/urfv/yandex-tracker-mcp/internal/jsonrpc"
	"github.com/urfv/yandex-tracker-mcp/internal/middleware"
	"github.com/urfv/yandex-tracker-mcp/internal/modules"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// ServerName is reported in serverInfo.
const ServerName = "yandex-tracker-mcp"

// Version is set at build time.
var Version = "0.1.0"

// UsageRecorder persists executed tools. Implemented by broker.UsageBroker.
type UsageRecorder interface {
	RecordUsage(subject, metaTool, requestID string, details []broker.ToolDetail)
}

type Handler struct {
	recorder UsageRecorder
	lang     string
}

// NewHandler creates a handler. recorder may be nil; lang selects tool
// descriptions and defaults to modules.DefaultLanguage.
func NewHandler(recorder UsageRecorder, lang string) *Handler {
	if lang == "" {
		lang = modules.DefaultLanguage
	}
	return &Handler{
		recorder: recorder,
		lang:     lang,
	}
}

// ProcessRequest routes a JSON-RPC request to the appropriate handler.
// Called by the HTTP transport and the stdio loop.
func (h *Handler) ProcessRequest(ctx context.Context, req *jsonrpc.Request) (any, *jsonrpc.Error) {
	switch req.Method {
	case "initialize":
		return h.handleInitialize(), nil
	case "initialized", "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return h.handleToolsList(ctx), nil
	case "tools/call":
		return h.handleToolCall(ctx, req)
	default:
		return nil, &jsonrpc.Error{Code: MethodNotFound, Message: "Method not found: " + req.Method}
	}
}

func (h *Handler) handleInitialize() *InitializeResult {
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: Version,
		},
	}
}

func (h *Handler) handleToolsList(ctx context.Context) *ToolsListResult {
	return &ToolsListResult{Tools: modules.AllTools(h.lang, caller(ctx).AllowedTools)}
}

func (h *Handler) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*ToolCallResult, *jsonrpc.Error) {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return nil, &jsonrpc.Error{Code: InvalidParams, Message: "Invalid params"}
	}

	var params ToolCallParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return nil, &jsonrpc.Error{Code: InvalidParams, Message: "Invalid params structure"}
	}
	if params.Name == "" {
		return nil, &jsonrpc.Error{Code: InvalidParams, Message: "name is required"}
	}
	if params.Arguments == nil {
		params.Arguments = make(map[string]any)
	}

	if params.Name == modules.BatchToolName {
		return h.handleBatch(ctx, params.Arguments)
	}
	return h.handleRun(ctx, params.Name, params.Arguments)
}

func (h *Handler) handleRun(ctx context.Context, name string, params map[string]any) (*ToolCallResult, *jsonrpc.Error) {
	m, toolName, ok := modules.FindModuleForTool(name)
	if !ok {
		return nil, &jsonrpc.Error{Code: InvalidParams, Message: fmt.Sprintf("Unknown tool: %s", name)}
	}
	moduleName := m.Name()

	authCtx := caller(ctx)
	requestID := middleware.GetRequestID(ctx)

	if err := authCtx.CanAccessTool(moduleName, toolName, 1); err != nil {
		observability.LogSecurityEvent(requestID, authCtx.Subject, "call_permission_denied", map[string]any{
			"module": moduleName,
			"tool":   toolName,
			"reason": err.Error(),
		})
		return nil, authErrorToRPC(err)
	}

	result, err := modules.Run(ctx, moduleName, toolName, params)
	if err != nil {
		return nil, &jsonrpc.Error{Code: InternalError, Message: err.Error()}
	}
	if result.IsError {
		return result, nil
	}

	if modules.WantsCompact(params) {
		result.Content[0].Text = modules.ApplyCompact(moduleName, toolName, result.Content[0].Text)
	}

	h.recordUsage(authCtx.Subject, "call", requestID, []broker.ToolDetail{{Module: moduleName, Tool: toolName}})
	return result, nil
}

func (h *Handler) handleBatch(ctx context.Context, args map[string]any) (*ToolCallResult, *jsonrpc.Error) {
	commands, ok := args["commands"].(string)
	if !ok {
		return nil, &jsonrpc.Error{Code: InvalidParams, Message: "commands must be a string"}
	}

	cmds, err := modules.ParseBatch(commands)
	if err != nil {
		return modules.TextResult(modules.ErrorJSON(err.Error()), true), nil
	}

	authCtx := caller(ctx)
	requestID := middleware.GetRequestID(ctx)

	// All-or-nothing: every command is checked before anything runs.
	if rpcErr := checkBatchPermissions(requestID, authCtx, cmds); rpcErr != nil {
		return nil, rpcErr
	}

	batchResult := modules.ExecuteBatch(ctx, cmds)

	if len(batchResult.SuccessfulTasks) > 0 {
		details := make([]broker.ToolDetail, len(batchResult.SuccessfulTasks))
		for i, task := range batchResult.SuccessfulTasks {
			details[i] = broker.ToolDetail{
				TaskID: task.TaskID,
				Module: task.Module,
				Tool:   task.Tool,
			}
		}
		h.recordUsage(authCtx.Subject, "batch", requestID, details)
	}

	return batchResult.Result, nil
}

func (h *Handler) recordUsage(subject, metaTool, requestID string, details []broker.ToolDetail) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordUsage(subject, metaTool, requestID, details)
}

// checkBatchPermissions rejects the whole batch if any command is denied.
// The client gets a vague message; denied tools go to the security log.
func checkBatchPermissions(requestID string, authCtx *middleware.AuthContext, cmds []modules.BatchCommand) *jsonrpc.Error {
	var denied []string
	for _, cmd := range cmds {
		// usageCount 0: the daily limit is checked once for the whole batch below.
		if err := authCtx.CanAccessTool(cmd.Module, cmd.Tool, 0); err != nil {
			var authErr *middleware.AuthError
			if errors.As(err, &authErr) {
				denied = append(denied, fmt.Sprintf("%s:%s(%s)", cmd.Module, cmd.Tool, authErr.Code))
			} else {
				denied = append(denied, cmd.Module+":"+cmd.Tool)
			}
		}
	}

	if len(denied) > 0 {
		observability.LogSecurityEvent(requestID, authCtx.Subject, "batch_permission_denied", map[string]any{
			"denied_tools": denied,
		})
		return &jsonrpc.Error{
			Code:    ErrPermissionDenied,
			Message: "batch rejected: one or more tools are not permitted",
		}
	}

	if !authCtx.WithinDailyLimit(len(cmds)) {
		return &jsonrpc.Error{
			Code:    ErrUsageLimitExceeded,
			Message: fmt.Sprintf("Daily usage limit exceeded. Used: %d, Limit: %d.", authCtx.DailyUsed, authCtx.DailyLimit),
		}
	}

	return nil
}

// caller returns the request's auth context. Without one (stdio) the
// caller is local and unrestricted.
func caller(ctx context.Context) *middleware.AuthContext {
	if authCtx := middleware.GetAuthContext(ctx); authCtx != nil {
		return authCtx
	}
	return &middleware.AuthContext{Subject: "local", AuthType: "local"}
}

// authErrorToRPC maps middleware.AuthError to the appropriate JSON-RPC error code.
func authErrorToRPC(err error) *jsonrpc.Error {
	var authErr *middleware.AuthError
	if !errors.As(err, &authErr) {
		return &jsonrpc.Error{Code: InternalError, Message: err.Error()}
	}
	switch authErr.Code {
	case "USAGE_LIMIT_EXCEEDED":
		return &jsonrpc.Error{Code: ErrUsageLimitExceeded, Message: authErr.Message}
	case "TOOL_DISABLED":
		return &jsonrpc.Error{Code: ErrPermissionDenied, Message: authErr.Message}
	default:
		return &jsonrpc.Error{Code: InternalError, Message: authErr.Message}
	}
}
