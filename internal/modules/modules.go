package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/urfv/yandex-tracker-mcp/internal/middleware"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// =============================================================================
// Registry
// =============================================================================

// registry holds all registered modules
var registry = make(map[string]Module)

// RegisterModule adds a module to the registry
func RegisterModule(m Module) {
	registry[m.Name()] = m
}

// GetModule returns a module by name
func GetModule(name string) (Module, bool) {
	m, ok := registry[name]
	return m, ok
}

// ListModules returns all registered module names in sorted order
func ListModules() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindModuleForTool resolves a tool name to its owning module. Both the
// bare name ("get_issue") and the stable ID ("tracker:get_issue") are
// accepted. Returns the module and the bare tool name.
func FindModuleForTool(name string) (Module, string, bool) {
	if moduleName, toolName, ok := strings.Cut(name, ":"); ok {
		m, found := registry[moduleName]
		if !found {
			return nil, "", false
		}
		if _, found := findTool(m.Tools(), toolName); !found {
			return nil, "", false
		}
		return m, toolName, true
	}
	for _, moduleName := range ListModules() {
		m := registry[moduleName]
		if _, found := findTool(m.Tools(), name); found {
			return m, name, true
		}
	}
	return nil, "", false
}

// =============================================================================
// Tool Listing
// =============================================================================

// filterTools returns the tools of a module that appear in allowed.
// A nil allowed list means no restriction. Entries are tool IDs
// ("tracker:get_issue") or a module wildcard ("tracker:*").
func filterTools(moduleName string, tools []Tool, allowed []string) []Tool {
	if allowed == nil {
		return tools
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}
	if allowedSet[moduleName+":*"] {
		return tools
	}
	var filtered []Tool
	for _, tool := range tools {
		if allowedSet[tool.ID] || allowedSet[moduleName+":"+tool.Name] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// AllTools returns every registered tool, localized for lang and filtered
// by allowed, followed by the batch meta tool.
func AllTools(lang string, allowed []string) []Tool {
	var tools []Tool
	for _, name := range ListModules() {
		for _, t := range filterTools(name, registry[name].Tools(), allowed) {
			tools = append(tools, t.Localized(lang))
		}
	}
	return append(tools, BatchTool())
}

// BatchToolName is the name of the batch meta tool.
const BatchToolName = "batch"

// MaxBatchSize is the maximum number of commands in one batch.
const MaxBatchSize = 10

// BatchTool returns the batch meta tool definition.
func BatchTool() Tool {
	desc := fmt.Sprintf(`Execute multiple tools in batch (JSONL format, with dependency and parallel execution support).

[Fields]
- id (required): Task identifier
- tool (required): Tool name, e.g. "find_issues" or "tracker:find_issues"
- module: Module name (optional, resolved from the tool name)
- params: Parameters
- after: Dependency task ID array (waits for these to complete before executing)
- output: If true, includes result in response

[Response Format]
Results are JSON. Add format: "compact" to params for CSV/Markdown.

[Variable References]
${id.field} reads a field of a task result, ${id.list[index].field} reads a field of a list element.
A reference object resolves to its key, then id, then display.

[Example: Chained Processing]
{"id":"find","tool":"find_issues","params":{"query":"Queue: TEST Status: Open","per_page":5}}
{"id":"comments","tool":"get_issue_comments","params":{"issue_id":"${find.issues[0].key}"},"after":["find"],"output":true}

[Limits]
- Maximum %d commands per batch

[Execution Rules]
- No after -> parallel execution via goroutines
- With after -> executes after dependent tasks complete
- Circular dependency -> error
- Dependent task failure -> dependents are skipped`, MaxBatchSize)

	return Tool{
		Name:        BatchToolName,
		Description: desc,
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"commands": {
					Type:        "string",
					Description: "Commands in JSONL format",
				},
			},
			Required: []string{"commands"},
		},
	}
}

// =============================================================================
// Tool Execution
// =============================================================================

// toolTimeout is the maximum duration for a single tool execution.
const toolTimeout = 30 * time.Second

const instrumentationName = "github.com/urfv/yandex-tracker-mcp/internal/modules"

var (
	tracer = otel.Tracer(instrumentationName)

	instrumentsOnce sync.Once
	toolCalls       metric.Int64Counter
	toolDuration    metric.Float64Histogram
)

func instruments() (metric.Int64Counter, metric.Float64Histogram) {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		var err error
		toolCalls, err = meter.Int64Counter("mcp.tool.calls",
			metric.WithDescription("Tool invocations by module, tool and status"),
			metric.WithUnit("{call}"))
		if err != nil {
			observability.LogError("create tool call counter", err)
		}
		toolDuration, err = meter.Float64Histogram("mcp.tool.duration",
			metric.WithDescription("Tool execution time"),
			metric.WithUnit("ms"))
		if err != nil {
			observability.LogError("create tool duration histogram", err)
		}
	})
	return toolCalls, toolDuration
}

// Run executes a single tool in a module. Tool-level failures come back
// as an error record with IsError set; the returned error is reserved for
// failures of Run itself.
func Run(ctx context.Context, moduleName, toolName string, params map[string]any) (*ToolCallResult, error) {
	start := time.Now()

	m, ok := GetModule(moduleName)
	if !ok {
		return TextResult(ErrorJSON(fmt.Sprintf("Unknown module: %s", moduleName)), true), nil
	}

	ctx, span := tracer.Start(ctx, "tools/call "+toolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mcp.module", moduleName),
			attribute.String("mcp.tool", toolName),
		))
	defer span.End()

	if tool, found := findTool(m.Tools(), toolName); found {
		validated, err := ValidateParams(tool.InputSchema, params)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			record(ctx, moduleName, toolName, "invalid", start)
			return TextResult(ErrorJSON(err.Error()), true), nil
		}
		params = validated
	}

	// Apply timeout to prevent upstream calls from hanging indefinitely
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	result, err := executeTool(ctx, m, toolName, params)
	durationMs := time.Since(start).Milliseconds()
	requestID := middleware.GetRequestID(ctx)
	subject := ""
	if authCtx := middleware.GetAuthContext(ctx); authCtx != nil {
		subject = authCtx.Subject
	}

	if err != nil {
		errMsg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errMsg = fmt.Sprintf("Request to %s timed out after %s", moduleName, toolTimeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
		record(ctx, moduleName, toolName, "error", start)
		observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "error", errMsg)
		return TextResult(ErrorJSON(errMsg), true), nil
	}

	if IsErrorRecord(result) {
		errMsg := ErrorMessage(result)
		span.SetStatus(codes.Error, errMsg)
		record(ctx, moduleName, toolName, "error", start)
		observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "error", errMsg)
		return TextResult(result, true), nil
	}

	span.SetStatus(codes.Ok, "")
	record(ctx, moduleName, toolName, "success", start)
	observability.LogToolCall(requestID, subject, moduleName, toolName, durationMs, "success", "")
	return TextResult(result, false), nil
}

// executeTool turns a panic inside a tool into an error. stdio mode has no
// HTTP recovery middleware above it.
func executeTool(ctx context.Context, m Module, toolName string, params map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.Error("tool panicked", "module", m.Name(), "tool", toolName, "panic", r, "stack", string(debug.Stack()))
			result, err = "", errors.Errorf("internal error in %s", toolName)
		}
	}()
	return m.ExecuteTool(ctx, toolName, params)
}

func record(ctx context.Context, moduleName, toolName, status string, start time.Time) {
	calls, duration := instruments()
	attrs := metric.WithAttributes(
		attribute.String("module", moduleName),
		attribute.String("tool", toolName),
		attribute.String("status", status),
	)
	if calls != nil {
		calls.Add(ctx, 1, attrs)
	}
	if duration != nil {
		duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	}
}

// WantsCompact reports whether params ask for compact output.
func WantsCompact(params map[string]any) bool {
	f, _ := params["format"].(string)
	return f == "compact"
}

// ApplyCompact converts a JSON result to compact format (CSV/MD) for a given module and tool.
// Returns the original JSON if the module has no CompactConverter.
func ApplyCompact(moduleName, toolName, jsonResult string) string {
	m, ok := GetModule(moduleName)
	if !ok {
		return jsonResult
	}
	if converter, ok := m.(CompactConverter); ok {
		return converter.ToCompact(toolName, jsonResult)
	}
	return jsonResult
}

// =============================================================================
// Batch Execution (DAG-based parallel execution)
// =============================================================================

// BatchCommand represents a single command in batch execution
type BatchCommand struct {
	ID     string         `json:"id"`               // Task identifier (required)
	Module string         `json:"module,omitempty"` // Module name (resolved from Tool when empty)
	Tool   string         `json:"tool"`             // Tool name (required)
	Params map[string]any `json:"params,omitempty"` // Tool parameters
	After  []string       `json:"after,omitempty"`  // Dependency task IDs
	Output bool           `json:"output,omitempty"` // Include result in response
}

// BatchResponse represents the batch execution response
type BatchResponse struct {
	Results map[string]string `json:"results,omitempty"` // ID -> result (for output:true tasks)
	Errors  map[string]string `json:"errors,omitempty"`  // ID -> error message
}

// taskState holds execution state for a task
type taskState struct {
	cmd     BatchCommand
	result  string
	err     error
	done    chan struct{}
	skipped bool
}

// SuccessfulTask represents a successfully executed task for usage accounting
type SuccessfulTask struct {
	TaskID string
	Module string
	Tool   string
}

// BatchResult contains the tool call result and the tasks that succeeded
type BatchResult struct {
	Result          *ToolCallResult
	SuccessCount    int
	SuccessfulTasks []SuccessfulTask
}

func batchError(msg string) *BatchResult {
	return &BatchResult{Result: TextResult(ErrorJSON(msg), true)}
}

// ParseBatch parses JSONL commands, resolves modules and checks the
// dependency graph. It does not execute anything.
func ParseBatch(commands string) ([]BatchCommand, error) {
	var cmds []BatchCommand
	seen := make(map[string]bool)

	for _, line := range strings.Split(strings.TrimSpace(commands), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var cmd BatchCommand
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			return nil, errors.Wrap(err, "JSON parse error")
		}
		if cmd.ID == "" {
			return nil, errors.New("id is required for all commands")
		}
		if cmd.Tool == "" {
			return nil, errors.Errorf("tool is required for task %s", cmd.ID)
		}
		if seen[cmd.ID] {
			return nil, errors.Errorf("duplicate id: %s", cmd.ID)
		}
		seen[cmd.ID] = true

		if cmd.Module == "" || strings.Contains(cmd.Tool, ":") {
			m, toolName, ok := FindModuleForTool(cmd.Tool)
			if !ok {
				return nil, errors.Errorf("unknown tool %s for task %s", cmd.Tool, cmd.ID)
			}
			cmd.Module, cmd.Tool = m.Name(), toolName
		}
		cmds = append(cmds, cmd)
	}

	if len(cmds) == 0 {
		return nil, errors.New("commands is required")
	}
	if len(cmds) > MaxBatchSize {
		return nil, errors.Errorf("batch has %d commands, maximum is %d", len(cmds), MaxBatchSize)
	}

	tasks := make(map[string]*taskState, len(cmds))
	for _, cmd := range cmds {
		tasks[cmd.ID] = &taskState{cmd: cmd}
	}
	for _, cmd := range cmds {
		for _, dep := range cmd.After {
			if _, exists := tasks[dep]; !exists {
				return nil, errors.Errorf("unknown dependency %s for task %s", dep, cmd.ID)
			}
		}
	}
	if cycle := detectCycle(tasks); cycle != "" {
		return nil, errors.Errorf("circular dependency detected: %s", cycle)
	}

	return cmds, nil
}

// Batch executes multiple tools from JSONL input with DAG-based parallel execution.
func Batch(ctx context.Context, commands string) (*BatchResult, error) {
	cmds, err := ParseBatch(commands)
	if err != nil {
		return batchError(err.Error()), nil
	}
	return ExecuteBatch(ctx, cmds), nil
}

// ExecuteBatch runs commands already checked by ParseBatch.
func ExecuteBatch(ctx context.Context, cmds []BatchCommand) *BatchResult {
	tasks := make(map[string]*taskState, len(cmds))
	for _, cmd := range cmds {
		tasks[cmd.ID] = &taskState{cmd: cmd, done: make(chan struct{})}
	}

	var wg sync.WaitGroup
	resultStore := &sync.Map{} // results for variable substitution

	for _, cmd := range cmds {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			executeTask(ctx, taskID, tasks, resultStore)
		}(cmd.ID)
	}

	wg.Wait()

	response := BatchResponse{
		Results: make(map[string]string),
		Errors:  make(map[string]string),
	}
	var successful []SuccessfulTask

	for _, cmd := range cmds {
		state := tasks[cmd.ID]
		switch {
		case state.err != nil:
			response.Errors[cmd.ID] = state.err.Error()
		case state.skipped:
			response.Errors[cmd.ID] = "skipped due to dependency failure"
		default:
			successful = append(successful, SuccessfulTask{
				TaskID: cmd.ID,
				Module: cmd.Module,
				Tool:   cmd.Tool,
			})
			if cmd.Output {
				if WantsCompact(cmd.Params) {
					response.Results[cmd.ID] = ApplyCompact(cmd.Module, cmd.Tool, state.result)
				} else {
					response.Results[cmd.ID] = state.result
				}
			}
		}
	}

	jsonBytes, _ := json.Marshal(response)

	return &BatchResult{
		Result:          TextResult(string(jsonBytes), len(successful) == 0),
		SuccessCount:    len(successful),
		SuccessfulTasks: successful,
	}
}

// detectCycle detects circular dependencies using DFS
func detectCycle(tasks map[string]*taskState) string {
	visited := make(map[string]int) // 0: unvisited, 1: visiting, 2: visited
	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		if visited[id] == 2 {
			return false
		}
		if visited[id] == 1 {
			cyclePath = append(cyclePath, id)
			return true
		}

		visited[id] = 1
		cyclePath = append(cyclePath, id)

		for _, dep := range tasks[id].cmd.After {
			if dfs(dep) {
				return true
			}
		}

		cyclePath = cyclePath[:len(cyclePath)-1]
		visited[id] = 2
		return false
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cyclePath = nil
		if dfs(id) {
			return strings.Join(cyclePath, " -> ")
		}
	}
	return ""
}

// executeTask executes a single task after waiting for dependencies
func executeTask(ctx context.Context, taskID string, tasks map[string]*taskState, resultStore *sync.Map) {
	state := tasks[taskID]
	defer close(state.done)

	for _, depID := range state.cmd.After {
		depState := tasks[depID]
		<-depState.done

		if depState.err != nil || depState.skipped {
			state.skipped = true
			return
		}
	}

	if err := ctx.Err(); err != nil {
		state.err = err
		return
	}

	resolvedParams := resolveVariables(state.cmd.Params, resultStore)

	result, err := Run(ctx, state.cmd.Module, state.cmd.Tool, resolvedParams)
	if err != nil {
		state.err = err
		return
	}

	if result.IsError {
		msg := ErrorMessage(result.Text())
		if msg == "" {
			msg = result.Text()
		}
		state.err = errors.New(msg)
		return
	}

	state.result = result.Text()
	resultStore.Store(taskID, state.result)
}

// resolveVariables replaces ${id.field} and ${id.list[N].field} references with actual values
func resolveVariables(params map[string]any, resultStore *sync.Map) map[string]any {
	if params == nil {
		return nil
	}

	resolved := make(map[string]any, len(params))
	for key, value := range params {
		resolved[key] = resolveValue(value, resultStore)
	}
	return resolved
}

// resolveValue recursively resolves variable references in a value
func resolveValue(value any, resultStore *sync.Map) any {
	switch v := value.(type) {
	case string:
		return resolveStringVariables(v, resultStore)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for k, val := range v {
			resolved[k] = resolveValue(val, resultStore)
		}
		return resolved
	case []any:
		resolved := make([]any, len(v))
		for i, val := range v {
			resolved[i] = resolveValue(val, resultStore)
		}
		return resolved
	default:
		return value
	}
}

// Variable reference pattern: ${taskId.field} or ${taskId.list[index].field}
var varRefPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\.(?:([a-zA-Z_][a-zA-Z0-9_]*)\[(\d+)\]\.)?([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// resolveStringVariables resolves variable references in a string.
// Unresolvable references are left as written.
func resolveStringVariables(s string, resultStore *sync.Map) string {
	return varRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varRefPattern.FindStringSubmatch(match)
		if len(parts) != 5 {
			return match
		}
		taskID, list, indexStr, field := parts[1], parts[2], parts[3], parts[4]

		resultVal, ok := resultStore.Load(taskID)
		if !ok {
			return match
		}
		resultStr, ok := resultVal.(string)
		if !ok {
			return match
		}

		var data any
		if err := json.Unmarshal([]byte(resultStr), &data); err != nil {
			return match
		}

		item := data
		if list != "" {
			index, err := strconv.Atoi(indexStr)
			if err != nil {
				return match
			}
			// A bare array result answers to any list name.
			items, ok := data.([]any)
			if !ok {
				obj, isObj := data.(map[string]any)
				if !isObj {
					return match
				}
				if items, ok = obj[list].([]any); !ok {
					return match
				}
			}
			if index >= len(items) {
				return match
			}
			item = items[index]
		}

		obj, ok := item.(map[string]any)
		if !ok {
			return match
		}
		val, ok := obj[field]
		if !ok || val == nil {
			return match
		}
		if s, ok := scalarString(val); ok {
			return s
		}
		return match
	})
}

// scalarString renders a JSON value for substitution. A reference object
// renders as its key, then id, then display.
func scalarString(val any) (string, bool) {
	switch v := val.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case map[string]any:
		for _, k := range []string{"key", "id", "display"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
