package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfv/yandex-tracker-mcp/internal/modules"
)

// =============================================================================
// Compact formatters per tool: (toolName, JSON) → CSV or Markdown
// =============================================================================

func formatCompact(toolName, jsonStr string) string {
	if modules.IsErrorRecord(jsonStr) {
		return jsonStr
	}
	switch toolName {
	// Read: list/search → CSV
	case "find_issues":
		return issuesToCSV(jsonStr)
	case "find_projects":
		return projectsToCSV(jsonStr)
	case "get_boards":
		return boardsToCSV(jsonStr)
	case "get_issue_comments":
		return commentsToCompact(jsonStr)
	// Read: single item → MD
	case "get_issue", "create_issue", "update_issue", "move_issue":
		return issueToCompact(jsonStr)
	case "get_project", "create_project", "update_project":
		return projectToCompact(jsonStr)
	case "get_board":
		return boardToCompact(jsonStr)
	case "count_issues":
		return countToCompact(jsonStr)
	case "link_issues":
		return linkToCompact(jsonStr)
	case "delete_project":
		return pickKeys(jsonStr, "id", "deleted")
	default:
		return jsonStr
	}
}

// pickKeys extracts only the specified keys from a JSON object.
func pickKeys(jsonStr string, keys ...string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return jsonStr
	}
	result := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			result[k] = v
		}
	}
	out, err := json.Marshal(result)
	if err != nil {
		return jsonStr
	}
	return string(out)
}

// issuesToCSV: key,summary,status,priority,assignee,queue,updated
func issuesToCSV(jsonStr string) string {
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
		return jsonStr
	}
	issues, ok := wrapper["issues"].([]any)
	if !ok {
		return jsonStr
	}
	if len(issues) == 0 {
		return "# 0 issues"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("```csv  # %d issues in page\nkey,summary,status,priority,assignee,queue,updated\n", len(issues)))
	for _, raw := range issues {
		issue, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s\n",
			csvEscape(str(issue, "key")),
			csvEscape(str(issue, "summary")),
			csvEscape(display(issue, "status")),
			csvEscape(display(issue, "priority")),
			csvEscape(display(issue, "assignee")),
			csvEscape(refKey(issue, "queue")),
			date(str(issue, "updated_at")),
		))
	}
	sb.WriteString("```")
	return sb.String()
}

// issueToCompact: single issue detail
func issueToCompact(jsonStr string) string {
	var issue map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &issue); err != nil {
		return jsonStr
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s: %s\n", str(issue, "key"), str(issue, "summary")))
	sb.WriteString(fmt.Sprintf("- **Status**: %s\n", display(issue, "status")))
	if t := display(issue, "type"); t != "" {
		sb.WriteString(fmt.Sprintf("- **Type**: %s\n", t))
	}
	if p := display(issue, "priority"); p != "" {
		sb.WriteString(fmt.Sprintf("- **Priority**: %s\n", p))
	}
	if a := display(issue, "assignee"); a != "" {
		sb.WriteString(fmt.Sprintf("- **Assignee**: %s\n", a))
	}
	if q := refKey(issue, "queue"); q != "" {
		sb.WriteString(fmt.Sprintf("- **Queue**: %s\n", q))
	}
	if created := date(str(issue, "created_at")); created != "" {
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", created))
	}
	if updated := date(str(issue, "updated_at")); updated != "" {
		sb.WriteString(fmt.Sprintf("- **Updated**: %s\n", updated))
	}
	if desc := str(issue, "description"); desc != "" {
		sb.WriteString(fmt.Sprintf("\n## Description\n%s\n", desc))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// projectsToCSV: id,key,name,status,lead,start,end
func projectsToCSV(jsonStr string) string {
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
		return jsonStr
	}
	projects, ok := wrapper["projects"].([]any)
	if !ok {
		return jsonStr
	}
	if len(projects) == 0 {
		return "# 0 projects"
	}
	var sb strings.Builder
	sb.WriteString("```csv\nid,key,name,status,lead,start,end\n")
	for _, raw := range projects {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s\n",
			csvEscape(scalar(p, "id")),
			csvEscape(str(p, "key")),
			csvEscape(str(p, "name")),
			csvEscape(displayOrString(p, "status")),
			csvEscape(display(p, "lead")),
			str(p, "start_date"),
			str(p, "end_date"),
		))
	}
	sb.WriteString("```")
	return sb.String()
}

// projectToCompact: single project detail
func projectToCompact(jsonStr string) string {
	var p map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return jsonStr
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n", str(p, "name")))
	sb.WriteString(fmt.Sprintf("- **ID**: %s\n", scalar(p, "id")))
	if s := displayOrString(p, "status"); s != "" {
		sb.WriteString(fmt.Sprintf("- **Status**: %s\n", s))
	}
	if lead := display(p, "lead"); lead != "" {
		sb.WriteString(fmt.Sprintf("- **Lead**: %s\n", lead))
	}
	if start, end := str(p, "start_date"), str(p, "end_date"); start != "" || end != "" {
		sb.WriteString(fmt.Sprintf("- **Dates**: %s .. %s\n", start, end))
	}
	if desc := str(p, "description"); desc != "" {
		sb.WriteString(fmt.Sprintf("\n## Description\n%s\n", desc))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// boardsToCSV: id,name,created_by,updated
func boardsToCSV(jsonStr string) string {
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
		return jsonStr
	}
	boards, ok := wrapper["boards"].([]any)
	if !ok {
		return jsonStr
	}
	if len(boards) == 0 {
		return "# 0 boards"
	}
	var sb strings.Builder
	sb.WriteString("```csv\nid,name,created_by,updated\n")
	for _, raw := range boards {
		b, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s\n",
			csvEscape(scalar(b, "id")),
			csvEscape(str(b, "name")),
			csvEscape(display(b, "created_by")),
			date(str(b, "updated_at")),
		))
	}
	sb.WriteString("```")
	return sb.String()
}

// boardToCompact: single board with its columns
func boardToCompact(jsonStr string) string {
	var b map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &b); err != nil {
		return jsonStr
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n", str(b, "name")))
	sb.WriteString(fmt.Sprintf("- **ID**: %s\n", scalar(b, "id")))
	if q := str(b, "query"); q != "" {
		sb.WriteString(fmt.Sprintf("- **Query**: %s\n", q))
	}
	if columns, ok := b["columns"].([]any); ok && len(columns) > 0 {
		names := make([]string, 0, len(columns))
		for _, c := range columns {
			if cm, ok := c.(map[string]any); ok {
				names = append(names, str(cm, "display"))
			}
		}
		sb.WriteString(fmt.Sprintf("- **Columns**: %s\n", strings.Join(names, " | ")))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// commentsToCompact: comments list
func commentsToCompact(jsonStr string) string {
	var wrapper map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
		return jsonStr
	}
	comments, ok := wrapper["comments"].([]any)
	if !ok {
		return jsonStr
	}
	if len(comments) == 0 {
		return "# 0 comments"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %d comments\n\n", len(comments)))
	for _, raw := range comments {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		created := str(c, "created_at")
		if len(created) > 16 {
			created = created[:16]
		}
		sb.WriteString(fmt.Sprintf("**%s** (%s):\n%s\n\n", str(c, "author"), created, str(c, "text")))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func countToCompact(jsonStr string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return jsonStr
	}
	return fmt.Sprintf("# %s issues match", scalar(data, "count"))
}

func linkToCompact(jsonStr string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return jsonStr
	}
	src, _ := data["source"].(map[string]any)
	dst, _ := data["target"].(map[string]any)
	if src == nil || dst == nil {
		return jsonStr
	}
	return fmt.Sprintf("Linked %s -> %s", str(src, "key"), str(dst, "key"))
}

// =============================================================================
// Helpers
// =============================================================================

func str(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

// scalar renders strings and JSON numbers.
func scalar(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// display extracts the display label of a nested reference.
func display(obj map[string]any, key string) string {
	if ref, ok := obj[key].(map[string]any); ok {
		return str(ref, "display")
	}
	return ""
}

func displayOrString(obj map[string]any, key string) string {
	if s := str(obj, key); s != "" {
		return s
	}
	return display(obj, key)
}

func refKey(obj map[string]any, key string) string {
	if ref, ok := obj[key].(map[string]any); ok {
		if k := str(ref, "key"); k != "" {
			return k
		}
		return str(ref, "display")
	}
	return ""
}

// date keeps the calendar date of a timestamp.
func date(ts string) string {
	if len(ts) > 10 {
		return ts[:10]
	}
	return ts
}

func csvEscape(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, ",\"\n\r") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}
