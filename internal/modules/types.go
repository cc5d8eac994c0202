package modules

import "context"

// =============================================================================
// Localization
// =============================================================================

// LocalizedText holds multilingual text.
// key: BCP47 language code (en-US, ru-RU)
type LocalizedText map[string]string

// DefaultLanguage is the language exposed to MCP clients.
const DefaultLanguage = "en-US"

// Get returns the text for lang, falling back to DefaultLanguage.
func (t LocalizedText) Get(lang string) string {
	if s, ok := t[lang]; ok && s != "" {
		return s
	}
	return t[DefaultLanguage]
}

// =============================================================================
// Module Interface
// =============================================================================

// Module defines the interface that all modules must implement.
// Each module provides Tools and Resources (MCP primitives).
type Module interface {
	// Metadata
	Name() string
	Description() string         // English description
	Descriptions() LocalizedText // Multilingual descriptions
	APIVersion() string

	// Tools - LLM executes, may have side effects
	Tools() []Tool
	ExecuteTool(ctx context.Context, name string, params map[string]any) (string, error)

	// Resources - LLM reads, no side effects
	Resources() []Resource
	ReadResource(ctx context.Context, uri string) (string, error)
}

// CompactConverter provides optional compact format conversion (CSV/Markdown).
type CompactConverter interface {
	// ToCompact converts a JSON result to compact format.
	// toolName selects the layout for each tool.
	ToCompact(toolName string, jsonResult string) string
}

// =============================================================================
// Tool Definition
// =============================================================================

// ToolAnnotations describes the tool's behavior hints per MCP spec (2025-11-25).
type ToolAnnotations struct {
	ReadOnlyHint    *bool `json:"readOnlyHint,omitempty"`
	DestructiveHint *bool `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool `json:"openWorldHint,omitempty"`
}

func boolPtr(v bool) *bool { return &v }

// Pre-built annotation sets. Every tracker tool talks to one remote
// organization, so OpenWorldHint is true throughout.
var (
	// AnnotateReadOnly: get, find, count tools
	AnnotateReadOnly = &ToolAnnotations{
		ReadOnlyHint:  boolPtr(true),
		OpenWorldHint: boolPtr(true),
	}
	// AnnotateCreate: create and link tools (non-idempotent write)
	AnnotateCreate = &ToolAnnotations{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
		IdempotentHint:  boolPtr(false),
		OpenWorldHint:   boolPtr(true),
	}
	// AnnotateUpdate: update and move tools (idempotent write)
	AnnotateUpdate = &ToolAnnotations{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(false),
		IdempotentHint:  boolPtr(true),
		OpenWorldHint:   boolPtr(true),
	}
	// AnnotateDelete: delete tools (destructive, idempotent)
	AnnotateDelete = &ToolAnnotations{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
		IdempotentHint:  boolPtr(true),
		OpenWorldHint:   boolPtr(true),
	}
)

// Tool represents an MCP tool definition
type Tool struct {
	ID           string           `json:"id,omitempty"`           // Stable ID (e.g., "tracker:get_issue")
	Name         string           `json:"name"`                   // Execution key
	Description  string           `json:"description"`            // Runtime description (after language selection)
	Descriptions LocalizedText    `json:"descriptions,omitempty"` // Multilingual descriptions
	InputSchema  InputSchema      `json:"inputSchema"`
	Annotations  *ToolAnnotations `json:"annotations,omitempty"`
}

// Localized returns a copy of t with Description set for lang and the
// per-language table dropped.
func (t Tool) Localized(lang string) Tool {
	out := t
	if d := t.Descriptions.Get(lang); d != "" {
		out.Description = d
	}
	out.Descriptions = nil
	return out
}

// InputSchema defines the input parameters for a tool
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single property in the input schema
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Items       *Property `json:"items,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// =============================================================================
// Resource Definition
// =============================================================================

// Resource represents an MCP resource definition
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// =============================================================================
// Result Types
// =============================================================================

// ToolCallResult represents the result of a tool call
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in the result
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult wraps text in a single-block result.
func TextResult(text string, isError bool) *ToolCallResult {
	return &ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// Text returns the first text block, or "".
func (r *ToolCallResult) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}
