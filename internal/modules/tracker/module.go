// Package tracker exposes a Yandex Tracker organization as MCP tools. Every
// tool answers with a canonical, fully keyed record or {"error": "..."}.
package tracker

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-viper/mapstructure/v2"

	"github.com/urfv/yandex-tracker-mcp/internal/modules"
	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

const trackerAPIVersion = "2"

const (
	defaultPerPage      = 50
	defaultPage         = 1
	defaultRelationship = "relates"
)

// Client is the upstream tracker as seen by the tools. Raw values follow
// the trackerapi value model; search methods may return lazy pages.
type Client interface {
	GetIssue(ctx context.Context, key string) (any, error)
	CreateIssue(ctx context.Context, queue, summary string, fields map[string]any) (any, error)
	UpdateIssue(ctx context.Context, key string, fields map[string]any) (any, error)
	MoveIssue(ctx context.Context, key, queue string) (any, error)
	FindIssues(ctx context.Context, req trackerapi.SearchRequest) (any, error)
	CountIssues(ctx context.Context, req trackerapi.SearchRequest) (int, error)
	LinkIssues(ctx context.Context, src, dst, relationship string) (any, any, error)
	GetIssueComments(ctx context.Context, key string) (any, error)

	GetProject(ctx context.Context, id string) (any, error)
	CreateProject(ctx context.Context, fields map[string]any) (any, error)
	UpdateProject(ctx context.Context, id string, fields map[string]any) (any, error)
	DeleteProject(ctx context.Context, id string) error
	FindProjects(ctx context.Context, req trackerapi.SearchRequest) (any, error)

	GetBoards(ctx context.Context) (any, error)
	GetBoard(ctx context.Context, id string) (any, error)
}

// TrackerModule implements modules.Module for Yandex Tracker.
type TrackerModule struct {
	client Client
}

// New creates a TrackerModule backed by client.
func New(client Client) *TrackerModule {
	return &TrackerModule{client: client}
}

// Name returns the module name
func (m *TrackerModule) Name() string {
	return "tracker"
}

var moduleDescriptions = modules.LocalizedText{
	"en-US": "Yandex Tracker - issues, projects, boards and comments (search, count, create, update, move, link)",
	"ru-RU": "Яндекс Трекер - задачи, проекты, доски и комментарии (поиск, подсчёт, создание, изменение, перенос, связи)",
}

// Descriptions returns multilingual module descriptions
func (m *TrackerModule) Descriptions() modules.LocalizedText {
	return moduleDescriptions
}

// Description returns the module description (English)
func (m *TrackerModule) Description() string {
	return moduleDescriptions["en-US"]
}

// APIVersion returns the Tracker REST API version
func (m *TrackerModule) APIVersion() string {
	return trackerAPIVersion
}

// Tools returns all available tools
func (m *TrackerModule) Tools() []modules.Tool {
	return toolDefinitions
}

// ExecuteTool executes a tool by name and returns JSON response
func (m *TrackerModule) ExecuteTool(ctx context.Context, name string, params map[string]any) (string, error) {
	handler, ok := toolHandlers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return handler(m, ctx, params)
}

// ToCompact converts JSON result to compact format (MD or CSV)
func (m *TrackerModule) ToCompact(toolName string, jsonResult string) string {
	return formatCompact(toolName, jsonResult)
}

// Resources returns all available resources (none for Tracker)
func (m *TrackerModule) Resources() []modules.Resource {
	return nil
}

// ReadResource reads a resource by URI (not implemented)
func (m *TrackerModule) ReadResource(ctx context.Context, uri string) (string, error) {
	return "", fmt.Errorf("resources not supported")
}

// =============================================================================
// Tool Definitions
// =============================================================================

var searchProperties = map[string]modules.Property{
	"query":     {Type: "string", Description: "Query in the Tracker query language, e.g. 'Queue: TEST Status: Open'"},
	"filter":    {Type: "object", Description: "Field filter, e.g. {\"queue\": \"TEST\", \"assignee\": \"me()\"}"},
	"order_by":  {Type: "string", Description: "Field to sort by, e.g. 'updatedAt'"},
	"order_asc": {Type: "boolean", Description: "Sort ascending. Default: false"},
	"per_page":  {Type: "integer", Description: "Page size. Default: 50"},
	"page":      {Type: "integer", Description: "Page number, starting at 1. Default: 1"},
}

var toolDefinitions = []modules.Tool{
	{
		ID:   "tracker:get_issue",
		Name: "get_issue",
		Descriptions: modules.LocalizedText{
			"en-US": "Get a Yandex Tracker issue by key.",
			"ru-RU": "Получить задачу Трекера по ключу.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"issue_id": {Type: "string", Description: "Issue key (e.g., 'TEST-1') or ID"},
			},
			Required: []string{"issue_id"},
		},
	},
	{
		ID:   "tracker:create_issue",
		Name: "create_issue",
		Descriptions: modules.LocalizedText{
			"en-US": "Create an issue in a queue.",
			"ru-RU": "Создать задачу в очереди.",
		},
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"queue":       {Type: "string", Description: "Queue key (e.g., 'TEST')"},
				"summary":     {Type: "string", Description: "Issue summary"},
				"description": {Type: "string", Description: "Issue description"},
				"type":        {Type: "string", Description: "Issue type key (e.g., 'task', 'bug')"},
				"priority":    {Type: "string", Description: "Priority key (e.g., 'normal', 'critical')"},
				"assignee":    {Type: "string", Description: "Assignee login"},
				"fields":      {Type: "object", Description: "Additional issue fields, sent as is"},
			},
			Required: []string{"queue", "summary"},
		},
	},
	{
		ID:   "tracker:update_issue",
		Name: "update_issue",
		Descriptions: modules.LocalizedText{
			"en-US": "Update fields of an existing issue.",
			"ru-RU": "Изменить поля существующей задачи.",
		},
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"issue_id":    {Type: "string", Description: "Issue key (e.g., 'TEST-1')"},
				"summary":     {Type: "string", Description: "New summary"},
				"description": {Type: "string", Description: "New description"},
				"type":        {Type: "string", Description: "New issue type key"},
				"priority":    {Type: "string", Description: "New priority key"},
				"assignee":    {Type: "string", Description: "New assignee login"},
				"fields":      {Type: "object", Description: "Additional issue fields, sent as is"},
			},
			Required: []string{"issue_id"},
		},
	},
	{
		ID:   "tracker:move_issue",
		Name: "move_issue",
		Descriptions: modules.LocalizedText{
			"en-US": "Move an issue to another queue. The moved issue gets a new key.",
			"ru-RU": "Перенести задачу в другую очередь. Задача получит новый ключ.",
		},
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"issue_id": {Type: "string", Description: "Issue key (e.g., 'TEST-1')"},
				"queue":    {Type: "string", Description: "Target queue key"},
			},
			Required: []string{"issue_id", "queue"},
		},
	},
	{
		ID:   "tracker:find_issues",
		Name: "find_issues",
		Descriptions: modules.LocalizedText{
			"en-US": "Search issues by query or filter. Returns one page; total is the number of issues in that page, use count_issues for the number of all matches.",
			"ru-RU": "Найти задачи по запросу или фильтру. Возвращает одну страницу; total - число задач на странице, общее число совпадений даёт count_issues.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type:       "object",
			Properties: searchProperties,
		},
	},
	{
		ID:   "tracker:count_issues",
		Name: "count_issues",
		Descriptions: modules.LocalizedText{
			"en-US": "Count issues matching a query or filter on the server without fetching them.",
			"ru-RU": "Посчитать задачи, подходящие под запрос или фильтр, не загружая их.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"query":  searchProperties["query"],
				"filter": searchProperties["filter"],
			},
		},
	},
	{
		ID:   "tracker:link_issues",
		Name: "link_issues",
		Descriptions: modules.LocalizedText{
			"en-US": "Link two issues and return both of them.",
			"ru-RU": "Связать две задачи и вернуть обе.",
		},
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"source":       {Type: "string", Description: "Source issue key"},
				"target":       {Type: "string", Description: "Target issue key"},
				"relationship": {Type: "string", Description: "Link type: relates, depends on, is dependent by, is subtask for, is parent task for, duplicates, is duplicated by. Default: relates"},
			},
			Required: []string{"source", "target"},
		},
	},
	{
		ID:   "tracker:get_issue_comments",
		Name: "get_issue_comments",
		Descriptions: modules.LocalizedText{
			"en-US": "List comments of an issue.",
			"ru-RU": "Получить комментарии задачи.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"issue_id": {Type: "string", Description: "Issue key (e.g., 'TEST-1')"},
			},
			Required: []string{"issue_id"},
		},
	},
	{
		ID:   "tracker:get_project",
		Name: "get_project",
		Descriptions: modules.LocalizedText{
			"en-US": "Get a project by ID.",
			"ru-RU": "Получить проект по идентификатору.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"project_id": {Type: "string", Description: "Project ID"},
			},
			Required: []string{"project_id"},
		},
	},
	{
		ID:   "tracker:create_project",
		Name: "create_project",
		Descriptions: modules.LocalizedText{
			"en-US": "Create a project.",
			"ru-RU": "Создать проект.",
		},
		Annotations: modules.AnnotateCreate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"name":        {Type: "string", Description: "Project name"},
				"queues":      {Type: "string", Description: "Queue keys linked to the project, comma separated"},
				"description": {Type: "string", Description: "Project description"},
				"lead":        {Type: "string", Description: "Project lead login"},
				"status":      {Type: "string", Description: "Status: draft, in_progress, launched, postponed"},
				"start_date":  {Type: "string", Description: "Start date (YYYY-MM-DD)"},
				"end_date":    {Type: "string", Description: "End date (YYYY-MM-DD)"},
				"fields":      {Type: "object", Description: "Additional project fields, sent as is"},
			},
			Required: []string{"name"},
		},
	},
	{
		ID:   "tracker:update_project",
		Name: "update_project",
		Descriptions: modules.LocalizedText{
			"en-US": "Update a project. Pass the current version to guard against concurrent edits.",
			"ru-RU": "Изменить проект. Передайте текущую версию для защиты от одновременных правок.",
		},
		Annotations: modules.AnnotateUpdate,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"project_id":  {Type: "string", Description: "Project ID"},
				"version":     {Type: "integer", Description: "Current project version"},
				"name":        {Type: "string", Description: "New name"},
				"queues":      {Type: "string", Description: "New queue keys, comma separated"},
				"description": {Type: "string", Description: "New description"},
				"lead":        {Type: "string", Description: "New lead login"},
				"status":      {Type: "string", Description: "New status"},
				"start_date":  {Type: "string", Description: "New start date (YYYY-MM-DD)"},
				"end_date":    {Type: "string", Description: "New end date (YYYY-MM-DD)"},
				"fields":      {Type: "object", Description: "Additional project fields, sent as is"},
			},
			Required: []string{"project_id"},
		},
	},
	{
		ID:   "tracker:delete_project",
		Name: "delete_project",
		Descriptions: modules.LocalizedText{
			"en-US": "Delete a project.",
			"ru-RU": "Удалить проект.",
		},
		Annotations: modules.AnnotateDelete,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"project_id": {Type: "string", Description: "Project ID"},
			},
			Required: []string{"project_id"},
		},
	},
	{
		ID:   "tracker:find_projects",
		Name: "find_projects",
		Descriptions: modules.LocalizedText{
			"en-US": "Search projects. Returns one page; total is the number of projects in that page.",
			"ru-RU": "Найти проекты. Возвращает одну страницу; total - число проектов на странице.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type:       "object",
			Properties: searchProperties,
		},
	},
	{
		ID:   "tracker:get_boards",
		Name: "get_boards",
		Descriptions: modules.LocalizedText{
			"en-US": "List all boards.",
			"ru-RU": "Получить список досок.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type:       "object",
			Properties: map[string]modules.Property{},
		},
	},
	{
		ID:   "tracker:get_board",
		Name: "get_board",
		Descriptions: modules.LocalizedText{
			"en-US": "Get a board by ID.",
			"ru-RU": "Получить доску по идентификатору.",
		},
		Annotations: modules.AnnotateReadOnly,
		InputSchema: modules.InputSchema{
			Type: "object",
			Properties: map[string]modules.Property{
				"board_id": {Type: "string", Description: "Board ID"},
			},
			Required: []string{"board_id"},
		},
	},
}

// =============================================================================
// Tool Handlers
// =============================================================================

type toolHandler func(m *TrackerModule, ctx context.Context, params map[string]any) (string, error)

var toolHandlers = map[string]toolHandler{
	"get_issue":          (*TrackerModule).getIssue,
	"create_issue":       (*TrackerModule).createIssue,
	"update_issue":       (*TrackerModule).updateIssue,
	"move_issue":         (*TrackerModule).moveIssue,
	"find_issues":        (*TrackerModule).findIssues,
	"count_issues":       (*TrackerModule).countIssues,
	"link_issues":        (*TrackerModule).linkIssues,
	"get_issue_comments": (*TrackerModule).getIssueComments,
	"get_project":        (*TrackerModule).getProject,
	"create_project":     (*TrackerModule).createProject,
	"update_project":     (*TrackerModule).updateProject,
	"delete_project":     (*TrackerModule).deleteProject,
	"find_projects":      (*TrackerModule).findProjects,
	"get_boards":         (*TrackerModule).getBoards,
	"get_board":          (*TrackerModule).getBoard,
}

var toJSON = modules.ToJSON

// ErrorResult is the single-key error record every tool failure turns into.
type ErrorResult struct {
	Error string `json:"error"`
}

func errorResult(msg string) (string, error) {
	return toJSON(ErrorResult{Error: msg})
}

func requiredError(what string) (string, error) {
	return errorResult(what + " is required")
}

// failure maps an upstream error to an error record. subject names the
// entity for the not-found message, action completes "Failed to ...".
func failure(err error, subject, action string) (string, error) {
	if errors.Is(err, trackerapi.ErrNotFound) {
		return errorResult(subject + " not found")
	}
	return errorResult(fmt.Sprintf("Failed to %s: %v", action, err))
}

func decodeArgs[T any](params map[string]any) (T, error) {
	var args T
	if err := mapstructure.Decode(params, &args); err != nil {
		return args, errors.Wrap(err, "invalid parameters")
	}
	return args, nil
}

// --- Issues ---

type issueFields struct {
	Description string         `mapstructure:"description"`
	Type        string         `mapstructure:"type"`
	Priority    string         `mapstructure:"priority"`
	Assignee    string         `mapstructure:"assignee"`
	Fields      map[string]any `mapstructure:"fields"`
}

// payload merges the named parameters over the free-form fields.
func (f issueFields) payload() map[string]any {
	out := make(map[string]any, len(f.Fields)+4)
	for k, v := range f.Fields {
		out[k] = v
	}
	setString(out, "description", f.Description)
	setString(out, "type", f.Type)
	setString(out, "priority", f.Priority)
	setString(out, "assignee", f.Assignee)
	return out
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func (m *TrackerModule) getIssue(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		IssueID string `mapstructure:"issue_id"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.IssueID == "" {
		return requiredError("issue_id")
	}
	raw, err := m.client.GetIssue(ctx, args.IssueID)
	if err != nil {
		return failure(err, "Issue "+args.IssueID, "get issue")
	}
	return toJSON(FormatIssue(raw))
}

func (m *TrackerModule) createIssue(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		Queue       string `mapstructure:"queue"`
		Summary     string `mapstructure:"summary"`
		issueFields `mapstructure:",squash"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.Queue == "" {
		return requiredError("queue")
	}
	if args.Summary == "" {
		return requiredError("summary")
	}
	raw, err := m.client.CreateIssue(ctx, args.Queue, args.Summary, args.payload())
	if err != nil {
		return failure(err, "Queue "+args.Queue, "create issue")
	}
	return toJSON(FormatIssue(raw))
}

func (m *TrackerModule) updateIssue(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		IssueID     string `mapstructure:"issue_id"`
		Summary     string `mapstructure:"summary"`
		issueFields `mapstructure:",squash"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.IssueID == "" {
		return requiredError("issue_id")
	}
	fields := args.payload()
	setString(fields, "summary", args.Summary)
	if len(fields) == 0 {
		return requiredError("at least one field to update")
	}
	raw, err := m.client.UpdateIssue(ctx, args.IssueID, fields)
	if err != nil {
		return failure(err, "Issue "+args.IssueID, "update issue")
	}
	return toJSON(FormatIssue(raw))
}

func (m *TrackerModule) moveIssue(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		IssueID string `mapstructure:"issue_id"`
		Queue   string `mapstructure:"queue"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.IssueID == "" {
		return requiredError("issue_id")
	}
	if args.Queue == "" {
		return requiredError("queue")
	}
	raw, err := m.client.MoveIssue(ctx, args.IssueID, args.Queue)
	if err != nil {
		return failure(err, "Issue "+args.IssueID, "move issue")
	}
	return toJSON(FormatIssue(raw))
}

type searchArgs struct {
	Query    string         `mapstructure:"query"`
	Filter   map[string]any `mapstructure:"filter"`
	OrderBy  string         `mapstructure:"order_by"`
	OrderAsc bool           `mapstructure:"order_asc"`
	PerPage  int            `mapstructure:"per_page"`
	Page     int            `mapstructure:"page"`
}

func (a searchArgs) request() trackerapi.SearchRequest {
	perPage, page := a.PerPage, a.Page
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = defaultPage
	}
	return BuildSearchParams(a.Query, perPage, page, a.Filter, a.OrderBy, a.OrderAsc)
}

func (m *TrackerModule) findIssues(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[searchArgs](params)
	if err != nil {
		return errorResult(err.Error())
	}
	raw, err := m.client.FindIssues(ctx, args.request())
	if err != nil {
		return failure(err, "Issues", "search issues")
	}
	items, err := CollectEntities(ctx, raw)
	if err != nil {
		return failure(err, "Issues", "search issues")
	}
	return toJSON(newIssueSearchResult(items))
}

func (m *TrackerModule) countIssues(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[searchArgs](params)
	if err != nil {
		return errorResult(err.Error())
	}
	req := BuildSearchParams(args.Query, 0, 0, args.Filter, "", false)
	n, err := m.client.CountIssues(ctx, req)
	if err != nil {
		return failure(err, "Issues", "count issues")
	}
	return toJSON(CountResult{Count: n})
}

// LinkResult holds both linked issues.
type LinkResult struct {
	Source Issue `json:"source"`
	Target Issue `json:"target"`
}

func (m *TrackerModule) linkIssues(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		Source       string `mapstructure:"source"`
		Target       string `mapstructure:"target"`
		Relationship string `mapstructure:"relationship"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.Source == "" {
		return requiredError("source")
	}
	if args.Target == "" {
		return requiredError("target")
	}
	if args.Relationship == "" {
		args.Relationship = defaultRelationship
	}
	src, dst, err := m.client.LinkIssues(ctx, args.Source, args.Target, args.Relationship)
	if err != nil {
		return failure(err, fmt.Sprintf("Issue %s or %s", args.Source, args.Target), "link issues")
	}
	return toJSON(LinkResult{Source: FormatIssue(src), Target: FormatIssue(dst)})
}

func (m *TrackerModule) getIssueComments(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		IssueID string `mapstructure:"issue_id"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.IssueID == "" {
		return requiredError("issue_id")
	}
	raw, err := m.client.GetIssueComments(ctx, args.IssueID)
	if err != nil {
		return failure(err, "Issue "+args.IssueID, "get comments")
	}
	items, err := CollectEntities(ctx, raw)
	if err != nil {
		return failure(err, "Issue "+args.IssueID, "get comments")
	}
	return toJSON(newCommentList(items))
}

// --- Projects ---

type projectFields struct {
	Name        string         `mapstructure:"name"`
	Queues      string         `mapstructure:"queues"`
	Description string         `mapstructure:"description"`
	Lead        string         `mapstructure:"lead"`
	Status      string         `mapstructure:"status"`
	StartDate   string         `mapstructure:"start_date"`
	EndDate     string         `mapstructure:"end_date"`
	Fields      map[string]any `mapstructure:"fields"`
}

func (f projectFields) payload() map[string]any {
	out := make(map[string]any, len(f.Fields)+7)
	for k, v := range f.Fields {
		out[k] = v
	}
	setString(out, "name", f.Name)
	setString(out, "queues", f.Queues)
	setString(out, "description", f.Description)
	setString(out, "lead", f.Lead)
	setString(out, "status", f.Status)
	setString(out, "startDate", f.StartDate)
	setString(out, "endDate", f.EndDate)
	return out
}

func (m *TrackerModule) getProject(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		ProjectID string `mapstructure:"project_id"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.ProjectID == "" {
		return requiredError("project_id")
	}
	raw, err := m.client.GetProject(ctx, args.ProjectID)
	if err != nil {
		return failure(err, "Project "+args.ProjectID, "get project")
	}
	return toJSON(FormatProject(raw))
}

func (m *TrackerModule) createProject(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[projectFields](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.Name == "" {
		return requiredError("name")
	}
	raw, err := m.client.CreateProject(ctx, args.payload())
	if err != nil {
		return failure(err, "Project "+args.Name, "create project")
	}
	return toJSON(FormatProject(raw))
}

func (m *TrackerModule) updateProject(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		ProjectID     string `mapstructure:"project_id"`
		Version       int    `mapstructure:"version"`
		projectFields `mapstructure:",squash"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.ProjectID == "" {
		return requiredError("project_id")
	}
	fields := args.payload()
	if len(fields) == 0 {
		return requiredError("at least one field to update")
	}
	if args.Version > 0 {
		fields["version"] = args.Version
	}
	raw, err := m.client.UpdateProject(ctx, args.ProjectID, fields)
	if err != nil {
		return failure(err, "Project "+args.ProjectID, "update project")
	}
	return toJSON(FormatProject(raw))
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (m *TrackerModule) deleteProject(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		ProjectID string `mapstructure:"project_id"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.ProjectID == "" {
		return requiredError("project_id")
	}
	if err := m.client.DeleteProject(ctx, args.ProjectID); err != nil {
		return failure(err, "Project "+args.ProjectID, "delete project")
	}
	return toJSON(DeleteResult{ID: args.ProjectID, Deleted: true})
}

func (m *TrackerModule) findProjects(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[searchArgs](params)
	if err != nil {
		return errorResult(err.Error())
	}
	raw, err := m.client.FindProjects(ctx, args.request())
	if err != nil {
		return failure(err, "Projects", "search projects")
	}
	items, err := CollectEntities(ctx, raw)
	if err != nil {
		return failure(err, "Projects", "search projects")
	}
	return toJSON(newProjectSearchResult(items))
}

// --- Boards ---

func (m *TrackerModule) getBoards(ctx context.Context, _ map[string]any) (string, error) {
	raw, err := m.client.GetBoards(ctx)
	if err != nil {
		return failure(err, "Boards", "get boards")
	}
	items, err := CollectEntities(ctx, raw)
	if err != nil {
		return failure(err, "Boards", "get boards")
	}
	return toJSON(newBoardList(items))
}

func (m *TrackerModule) getBoard(ctx context.Context, params map[string]any) (string, error) {
	args, err := decodeArgs[struct {
		BoardID string `mapstructure:"board_id"`
	}](params)
	if err != nil {
		return errorResult(err.Error())
	}
	if args.BoardID == "" {
		return requiredError("board_id")
	}
	raw, err := m.client.GetBoard(ctx, args.BoardID)
	if err != nil {
		return failure(err, "Board "+args.BoardID, "get board")
	}
	return toJSON(FormatBoard(raw))
}
