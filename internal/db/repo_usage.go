package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
)

// RecordUsage inserts a usage log entry.
func RecordUsage(ctx context.Context, database *gorm.DB, subject, metaTool, requestID string, details any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return errors.Wrap(err, "marshal usage details")
	}

	entry := UsageLog{
		Subject:  subject,
		MetaTool: metaTool,
		Details:  JSONB(detailsJSON),
	}
	if requestID != "" {
		entry.RequestID = &requestID
	}

	return database.WithContext(ctx).Create(&entry).Error
}

// CountToolsSince returns how many tools subject has executed since the
// given instant. A batch entry counts once per executed tool.
func CountToolsSince(ctx context.Context, database *gorm.DB, subject string, since time.Time) (int, error) {
	var used int64
	err := database.WithContext(ctx).Model(&UsageLog{}).
		Select("COALESCE(SUM(jsonb_array_length(details)), 0)").
		Where("subject = ? AND created_at >= ?", subject, since).
		Scan(&used).Error
	if err != nil {
		return 0, errors.Wrap(err, "count usage")
	}
	return int(used), nil
}

// UsageData is the response for GET /v1/usage.
type UsageData struct {
	TotalUsed int            `json:"total_used"`
	ByTool    map[string]int `json:"by_tool"`
	Period    UsagePeriod    `json:"period"`
}

// UsagePeriod represents the date range for usage data.
type UsagePeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// toolCount is a helper struct for the GROUP BY query.
type toolCount struct {
	Tool  string
	Count int
}

// GetUsageByDateRange returns tool execution counts for [start, end).
func GetUsageByDateRange(ctx context.Context, database *gorm.DB, subject string, start, end time.Time) (*UsageData, error) {
	// details is an array like [{"module":"tracker","tool":"get_issue"}]
	var counts []toolCount
	err := database.WithContext(ctx).Raw(`
		SELECT (elem->>'module') || ':' || (elem->>'tool') AS tool, COUNT(*) AS count
		FROM usage_log,
		     jsonb_array_elements(details) AS elem
		WHERE subject = ? AND created_at >= ? AND created_at < ?
		  AND elem->>'tool' IS NOT NULL
		GROUP BY 1
		ORDER BY count DESC
	`, subject, start, end).Scan(&counts).Error
	if err != nil {
		return nil, errors.Wrap(err, "usage by tool")
	}

	return summarize(counts, start, end), nil
}

func summarize(counts []toolCount, start, end time.Time) *UsageData {
	data := &UsageData{
		ByTool: make(map[string]int, len(counts)),
		Period: UsagePeriod{
			Start: start.Format(time.DateOnly),
			End:   end.Format(time.DateOnly),
		},
	}
	for _, c := range counts {
		data.ByTool[c.Tool] += c.Count
		data.TotalUsed += c.Count
	}
	return data
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
