package modules

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// stubModule is a minimal in-memory module for registry and Run tests.
type stubModule struct{}

var stubTools = []Tool{
	{
		ID:           "stub:echo",
		Name:         "echo",
		Descriptions: LocalizedText{"en-US": "Echo text", "ru-RU": "Повторить текст"},
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
	},
	{ID: "stub:find", Name: "find", InputSchema: InputSchema{Type: "object"}},
	{ID: "stub:missing", Name: "missing", InputSchema: InputSchema{Type: "object"}},
	{ID: "stub:broken", Name: "broken", InputSchema: InputSchema{Type: "object"}},
	{ID: "stub:slow", Name: "slow", InputSchema: InputSchema{Type: "object"}},
	{ID: "stub:panics", Name: "panics", InputSchema: InputSchema{Type: "object"}},
}

func (s *stubModule) Name() string                { return "stub" }
func (s *stubModule) Description() string         { return "Stub module" }
func (s *stubModule) Descriptions() LocalizedText { return LocalizedText{"en-US": "Stub module"} }
func (s *stubModule) APIVersion() string          { return "1" }
func (s *stubModule) Tools() []Tool               { return stubTools }
func (s *stubModule) Resources() []Resource       { return nil }

func (s *stubModule) ToCompact(tool, _ string) string { return "compact:" + tool }

func (s *stubModule) ReadResource(context.Context, string) (string, error) {
	return "", errors.New("resources not supported")
}

func (s *stubModule) ExecuteTool(ctx context.Context, name string, params map[string]any) (string, error) {
	switch name {
	case "echo":
		b, _ := json.Marshal(map[string]any{"text": params["text"]})
		return string(b), nil
	case "find":
		return `{"issues":[{"key":"TASK-1","queue":{"id":"1","key":"TASK","display":"Tasks"}},{"key":"TASK-2"}],"total":2}`, nil
	case "missing":
		return `{"error":"Issue TASK-999 not found"}`, nil
	case "broken":
		return "", errors.New("connection refused")
	case "slow":
		<-ctx.Done()
		return "", ctx.Err()
	case "panics":
		var page map[string]any
		page["items"] = nil
	}
	return "", errors.New("unknown tool: " + name)
}

func withStub(t *testing.T) {
	t.Helper()
	orig := registry
	registry = map[string]Module{}
	RegisterModule(&stubModule{})
	t.Cleanup(func() { registry = orig })
}

func TestFilterTools(t *testing.T) {
	tools := []Tool{
		{ID: "tracker:get_issue", Name: "get_issue"},
		{ID: "tracker:find_issues", Name: "find_issues"},
		{ID: "tracker:delete_project", Name: "delete_project"},
	}

	tests := []struct {
		name      string
		allowed   []string
		wantCount int
	}{
		{"nil allowed returns all", nil, 3},
		{"partial whitelist", []string{"tracker:get_issue", "tracker:find_issues"}, 2},
		{"module wildcard", []string{"tracker:*"}, 3},
		{"other module only", []string{"jira:search"}, 0},
		{"empty whitelist", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterTools("tracker", tools, tt.allowed)
			if len(got) != tt.wantCount {
				t.Errorf("filterTools() returned %d tools, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestListModulesSorted(t *testing.T) {
	orig := registry
	defer func() { registry = orig }()

	registry = map[string]Module{"tracker": nil, "alpha": nil, "jira": nil}
	got := strings.Join(ListModules(), ",")
	if got != "alpha,jira,tracker" {
		t.Errorf("ListModules() = %s, want alpha,jira,tracker", got)
	}
}

func TestFindModuleForTool(t *testing.T) {
	withStub(t)

	tests := []struct {
		in       string
		wantTool string
		wantOK   bool
	}{
		{"echo", "echo", true},
		{"stub:echo", "echo", true},
		{"stub:nope", "", false},
		{"other:echo", "", false},
		{"nope", "", false},
	}
	for _, tt := range tests {
		m, tool, ok := FindModuleForTool(tt.in)
		if ok != tt.wantOK || tool != tt.wantTool {
			t.Errorf("FindModuleForTool(%q) = (%q, %v), want (%q, %v)", tt.in, tool, ok, tt.wantTool, tt.wantOK)
		}
		if ok && m.Name() != "stub" {
			t.Errorf("FindModuleForTool(%q) module = %s, want stub", tt.in, m.Name())
		}
	}
}

func TestAllTools(t *testing.T) {
	withStub(t)

	tools := AllTools("ru-RU", []string{"stub:echo"})
	if len(tools) != 2 {
		t.Fatalf("AllTools() returned %d tools, want 2", len(tools))
	}
	if tools[0].Description != "Повторить текст" {
		t.Errorf("description = %q, want localized", tools[0].Description)
	}
	if tools[0].Descriptions != nil {
		t.Error("per-language descriptions should not be exposed")
	}
	if tools[1].Name != BatchToolName {
		t.Errorf("last tool = %s, want %s", tools[1].Name, BatchToolName)
	}
}

func TestRun(t *testing.T) {
	withStub(t)

	tests := []struct {
		name        string
		module      string
		tool        string
		params      map[string]any
		want        string
		wantIsError bool
	}{
		{"success", "stub", "echo", map[string]any{"text": "hi"}, `{"text":"hi"}`, false},
		{"validation failure", "stub", "echo", nil, `{"error":"text is required"}`, true},
		{"error record", "stub", "missing", nil, `{"error":"Issue TASK-999 not found"}`, true},
		{"handler error", "stub", "broken", nil, `{"error":"connection refused"}`, true},
		{"unknown module", "nope", "echo", nil, `{"error":"Unknown module: nope"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), tt.module, tt.tool, tt.params)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Text() != tt.want {
				t.Errorf("Run() text = %s, want %s", res.Text(), tt.want)
			}
			if res.IsError != tt.wantIsError {
				t.Errorf("Run() IsError = %v, want %v", res.IsError, tt.wantIsError)
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	withStub(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, "stub", "slow", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsError || !IsErrorRecord(res.Text()) {
		t.Errorf("Run() = %s, want error record", res.Text())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	withStub(t)

	res, err := Run(context.Background(), "stub", "panics", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.IsError || ErrorMessage(res.Text()) != "internal error in panics" {
		t.Errorf("Run() = %s, want internal error record", res.Text())
	}
}

func TestApplyCompact(t *testing.T) {
	withStub(t)

	if got := ApplyCompact("stub", "find", `{}`); got != "compact:find" {
		t.Errorf("ApplyCompact() = %q", got)
	}
	if got := ApplyCompact("nope", "find", `{}`); got != `{}` {
		t.Errorf("ApplyCompact() on unknown module = %q, want input unchanged", got)
	}
}

func TestWantsCompact(t *testing.T) {
	if WantsCompact(nil) {
		t.Error("nil params should default to JSON")
	}
	if WantsCompact(map[string]any{"format": "json"}) {
		t.Error("format=json should not be compact")
	}
	if !WantsCompact(map[string]any{"format": "compact"}) {
		t.Error("format=compact should be compact")
	}
}

func TestDetectCycle(t *testing.T) {
	tests := []struct {
		name      string
		tasks     map[string]*taskState
		wantCycle bool
	}{
		{
			"no cycle (linear)",
			map[string]*taskState{
				"a": {cmd: BatchCommand{ID: "a", After: nil}},
				"b": {cmd: BatchCommand{ID: "b", After: []string{"a"}}},
				"c": {cmd: BatchCommand{ID: "c", After: []string{"b"}}},
			},
			false,
		},
		{
			"no cycle (independent)",
			map[string]*taskState{
				"a": {cmd: BatchCommand{ID: "a"}},
				"b": {cmd: BatchCommand{ID: "b"}},
			},
			false,
		},
		{
			"cycle A→B→A",
			map[string]*taskState{
				"a": {cmd: BatchCommand{ID: "a", After: []string{"b"}}},
				"b": {cmd: BatchCommand{ID: "b", After: []string{"a"}}},
			},
			true,
		},
		{
			"self-reference",
			map[string]*taskState{
				"a": {cmd: BatchCommand{ID: "a", After: []string{"a"}}},
			},
			true,
		},
		{
			"empty tasks",
			map[string]*taskState{},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := detectCycle(tt.tasks)
			if tt.wantCycle && result == "" {
				t.Error("expected cycle, got empty string")
			}
			if !tt.wantCycle && result != "" {
				t.Errorf("expected no cycle, got %q", result)
			}
		})
	}
}

func TestResolveStringVariables(t *testing.T) {
	store := &sync.Map{}
	store.Store("find", `{"issues":[{"key":"TASK-1","queue":{"id":"1","key":"TASK","display":"Tasks"},"assignee":{"id":"7","key":null,"display":"Anna"}}],"total":1}`)
	store.Store("raw", `[{"id":"abc-456","name":"array"}]`)
	store.Store("issue", `{"key":"TASK-7","summary":"x","votes":1000000}`)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"field of list element", "${find.issues[0].key}", "TASK-1"},
		{"reference renders key", "${find.issues[0].queue}", "TASK"},
		{"reference without key renders id", "${find.issues[0].assignee}", "7"},
		{"bare array result", "${raw.results[0].id}", "abc-456"},
		{"top-level field", "${issue.key}", "TASK-7"},
		{"number without exponent", "${issue.votes}", "1000000"},
		{"no variable reference", "plain string", "plain string"},
		{"unknown task ID", "${unknown.issues[0].key}", "${unknown.issues[0].key}"},
		{"out of bounds index", "${find.issues[99].key}", "${find.issues[99].key}"},
		{"missing field", "${issue.description}", "${issue.description}"},
		{"embedded in text", "Queue: ${find.issues[0].queue} Key: ${issue.key}", "Queue: TASK Key: TASK-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStringVariables(tt.input, store)
			if got != tt.want {
				t.Errorf("resolveStringVariables(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveVariables(t *testing.T) {
	store := &sync.Map{}
	store.Store("task1", `{"issues":[{"key":"abc"}]}`)

	t.Run("nil params", func(t *testing.T) {
		got := resolveVariables(nil, store)
		if got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("nested map with variable", func(t *testing.T) {
		params := map[string]any{
			"issue_id": "${task1.issues[0].key}",
			"filter": map[string]any{
				"parent": "${task1.issues[0].key}",
			},
		}
		got := resolveVariables(params, store)
		if got["issue_id"] != "abc" {
			t.Errorf("issue_id = %q, want %q", got["issue_id"], "abc")
		}
		filter := got["filter"].(map[string]any)
		if filter["parent"] != "abc" {
			t.Errorf("filter.parent = %q, want %q", filter["parent"], "abc")
		}
	})

	t.Run("array with variable", func(t *testing.T) {
		params := map[string]any{
			"ids": []any{"${task1.issues[0].key}", "static"},
		}
		got := resolveVariables(params, store)
		ids := got["ids"].([]any)
		if ids[0] != "abc" {
			t.Errorf("ids[0] = %q, want %q", ids[0], "abc")
		}
		if ids[1] != "static" {
			t.Errorf("ids[1] = %q, want %q", ids[1], "static")
		}
	})
}

func TestParseBatch(t *testing.T) {
	withStub(t)

	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"empty", "  \n ", "commands is required"},
		{"bad json", "{", "JSON parse error"},
		{"missing id", `{"tool":"echo"}`, "id is required"},
		{"missing tool", `{"id":"a"}`, "tool is required for task a"},
		{"unknown tool", `{"id":"a","tool":"nope"}`, "unknown tool nope for task a"},
		{"duplicate", "{\"id\":\"a\",\"tool\":\"echo\"}\n{\"id\":\"a\",\"tool\":\"echo\"}", "duplicate id: a"},
		{"unknown dependency", `{"id":"a","tool":"echo","after":["z"]}`, "unknown dependency z for task a"},
		{"cycle", "{\"id\":\"a\",\"tool\":\"echo\",\"after\":[\"b\"]}\n{\"id\":\"b\",\"tool\":\"echo\",\"after\":[\"a\"]}", "circular dependency detected"},
		{"too many", tooManyCommands(), "maximum is 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBatch(tt.in)
			if err == nil {
				t.Fatalf("ParseBatch() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseBatch() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}

	cmds, err := ParseBatch(`{"id":"a","tool":"stub:echo","params":{"text":"x"}}`)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if cmds[0].Module != "stub" || cmds[0].Tool != "echo" {
		t.Errorf("ParseBatch() resolved %s/%s, want stub/echo", cmds[0].Module, cmds[0].Tool)
	}
}

func tooManyCommands() string {
	var b strings.Builder
	for i := 0; i <= MaxBatchSize; i++ {
		b.WriteString(`{"id":"t` + string(rune('a'+i)) + `","tool":"echo"}` + "\n")
	}
	return b.String()
}

func TestBatch(t *testing.T) {
	withStub(t)

	commands := strings.Join([]string{
		`{"id":"find","tool":"find"}`,
		`{"id":"echo","tool":"echo","params":{"text":"${find.issues[0].key} in ${find.issues[0].queue}"},"after":["find"],"output":true}`,
		`{"id":"compact","tool":"find","params":{"format":"compact"},"output":true}`,
		`{"id":"missing","tool":"missing"}`,
		`{"id":"after_missing","tool":"echo","params":{"text":"x"},"after":["missing"],"output":true}`,
	}, "\n")

	res, err := Batch(context.Background(), commands)
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if res.SuccessCount != 3 {
		t.Errorf("SuccessCount = %d, want 3", res.SuccessCount)
	}
	if res.Result.IsError {
		t.Error("partial success should not be an error result")
	}

	var resp BatchResponse
	if err := json.Unmarshal([]byte(res.Result.Text()), &resp); err != nil {
		t.Fatalf("unmarshal batch response: %v", err)
	}
	if got := resp.Results["echo"]; got != `{"text":"TASK-1 in TASK"}` {
		t.Errorf("results[echo] = %s", got)
	}
	if got := resp.Results["compact"]; got != "compact:find" {
		t.Errorf("results[compact] = %s, want compact output", got)
	}
	if _, ok := resp.Results["find"]; ok {
		t.Error("task without output should not be in results")
	}
	if got := resp.Errors["missing"]; got != "Issue TASK-999 not found" {
		t.Errorf("errors[missing] = %q", got)
	}
	if got := resp.Errors["after_missing"]; got != "skipped due to dependency failure" {
		t.Errorf("errors[after_missing] = %q", got)
	}
}

func TestBatchInvalidInput(t *testing.T) {
	withStub(t)

	res, err := Batch(context.Background(), `{"id":"a","tool":"echo","after":["a"]}`)
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if !res.Result.IsError || res.SuccessCount != 0 {
		t.Errorf("Batch() = %+v, want error result", res.Result)
	}
	if !IsErrorRecord(res.Result.Text()) {
		t.Errorf("Batch() text = %s, want error record", res.Result.Text())
	}
}
