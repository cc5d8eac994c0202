package tracker

import (
	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

// record is the single internal view of a raw entity. Mapping-style and
// attribute-style inputs are both turned into one at ingestion.
type record struct {
	lookup func(name string) (any, bool)
}

// recordOf adapts a raw entity. Unknown shapes give a record without fields.
func recordOf(raw any) record {
	if isNil(raw) {
		return record{}
	}
	switch v := raw.(type) {
	case trackerapi.Object:
		return mapRecord(v)
	case map[string]any:
		return mapRecord(v)
	case trackerapi.Attributer:
		return record{lookup: func(name string) (any, bool) { return safeAttr(v, name) }}
	}
	return record{}
}

func mapRecord(m map[string]any) record {
	return record{lookup: func(name string) (any, bool) {
		v, ok := m[name]
		return v, ok
	}}
}

// value returns the raw field, nil when absent.
func (r record) value(name string) any {
	if r.lookup == nil {
		return nil
	}
	v, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return v
}

// field returns the normalized field, nil when absent.
func (r record) field(name string) any {
	return Normalize(r.value(name))
}

// Issue is the canonical issue record.
type Issue struct {
	Key         any `json:"key"`
	Summary     any `json:"summary"`
	Description any `json:"description"`
	Status      any `json:"status"`
	Assignee    any `json:"assignee"`
	CreatedAt   any `json:"created_at"`
	UpdatedAt   any `json:"updated_at"`
	Priority    any `json:"priority"`
	Type        any `json:"type"`
	Queue       any `json:"queue"`
}

// Project is the canonical project record.
type Project struct {
	ID          any `json:"id"`
	Key         any `json:"key"`
	Name        any `json:"name"`
	Description any `json:"description"`
	Status      any `json:"status"`
	Lead        any `json:"lead"`
	StartDate   any `json:"start_date"`
	EndDate     any `json:"end_date"`
	CreatedAt   any `json:"created_at"`
	UpdatedAt   any `json:"updated_at"`
}

// Board is the canonical board record.
type Board struct {
	ID        any `json:"id"`
	Name      any `json:"name"`
	Version   any `json:"version"`
	Query     any `json:"query"`
	Columns   any `json:"columns"`
	CreatedBy any `json:"created_by"`
	CreatedAt any `json:"created_at"`
	UpdatedAt any `json:"updated_at"`
}

// Comment is the canonical comment record. Author is the display label of
// the comment's creator.
type Comment struct {
	ID        any `json:"id"`
	Text      any `json:"text"`
	Author    any `json:"author"`
	CreatedAt any `json:"created_at"`
	UpdatedAt any `json:"updated_at"`
	Version   any `json:"version"`
}

// FormatIssue maps a raw issue to its canonical record.
func FormatIssue(raw any) Issue {
	r := recordOf(raw)
	return Issue{
		Key:         r.field("key"),
		Summary:     r.field("summary"),
		Description: r.field("description"),
		Status:      r.field("status"),
		Assignee:    r.field("assignee"),
		CreatedAt:   r.field("createdAt"),
		UpdatedAt:   r.field("updatedAt"),
		Priority:    r.field("priority"),
		Type:        r.field("type"),
		Queue:       r.field("queue"),
	}
}

// FormatProject maps a raw project to its canonical record. Projects that
// only carry a display label get it as their name.
func FormatProject(raw any) Project {
	r := recordOf(raw)
	name := r.field("name")
	if name == nil {
		name = r.field("display")
	}
	return Project{
		ID:          r.field("id"),
		Key:         r.field("key"),
		Name:        name,
		Description: r.field("description"),
		Status:      r.field("status"),
		Lead:        r.field("lead"),
		StartDate:   r.field("startDate"),
		EndDate:     r.field("endDate"),
		CreatedAt:   r.field("createdAt"),
		UpdatedAt:   r.field("updatedAt"),
	}
}

// FormatBoard maps a raw board to its canonical record.
func FormatBoard(raw any) Board {
	r := recordOf(raw)
	return Board{
		ID:        r.field("id"),
		Name:      r.field("name"),
		Version:   r.field("version"),
		Query:     r.field("query"),
		Columns:   r.field("columns"),
		CreatedBy: r.field("createdBy"),
		CreatedAt: r.field("createdAt"),
		UpdatedAt: r.field("updatedAt"),
	}
}

// FormatComment maps a raw comment to its canonical record.
func FormatComment(raw any) Comment {
	r := recordOf(raw)
	return Comment{
		ID:        r.field("id"),
		Text:      r.field("text"),
		Author:    authorOf(r.value("createdBy")),
		CreatedAt: r.field("createdAt"),
		UpdatedAt: r.field("updatedAt"),
		Version:   r.field("version"),
	}
}

// FormatComments formats each comment independently, so a page may mix
// mapping-style and attribute-style entries.
func FormatComments(raws []any) []Comment {
	out := make([]Comment, len(raws))
	for i, raw := range raws {
		out[i] = FormatComment(raw)
	}
	return out
}

// authorOf extracts the display label of a comment author, which may be a
// reference, a mapping or a plain string.
func authorOf(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	if ref, ok := referenceOf(v); ok {
		return ref.Display
	}
	return nil
}

// IssueSearchResult is one page of issues. Total is the number of issues in
// this page, not the number of matches on the server; use count_issues for
// that.
type IssueSearchResult struct {
	Issues []Issue `json:"issues"`
	Total  int     `json:"total"`
}

// ProjectSearchResult is one page of projects. Total is page-local.
type ProjectSearchResult struct {
	Projects []Project `json:"projects"`
	Total    int       `json:"total"`
}

// BoardList is the list of boards.
type BoardList struct {
	Boards []Board `json:"boards"`
	Total  int     `json:"total"`
}

// CommentList is the list of comments of an issue.
type CommentList struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
}

// CountResult is the server-side number of matching issues.
type CountResult struct {
	Count int `json:"count"`
}

func newIssueSearchResult(raws []any) IssueSearchResult {
	issues := make([]Issue, len(raws))
	for i, raw := range raws {
		issues[i] = FormatIssue(raw)
	}
	return IssueSearchResult{Issues: issues, Total: len(issues)}
}

func newProjectSearchResult(raws []any) ProjectSearchResult {
	projects := make([]Project, len(raws))
	for i, raw := range raws {
		projects[i] = FormatProject(raw)
	}
	return ProjectSearchResult{Projects: projects, Total: len(projects)}
}

func newBoardList(raws []any) BoardList {
	boards := make([]Board, len(raws))
	for i, raw := range raws {
		boards[i] = FormatBoard(raw)
	}
	return BoardList{Boards: boards, Total: len(boards)}
}

func newCommentList(raws []any) CommentList {
	comments := FormatComments(raws)
	return CommentList{Comments: comments, Total: len(comments)}
}
