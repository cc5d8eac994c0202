package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
)

// JSONB is a generic type for PostgreSQL JSONB columns.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "[]", nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = JSONB("[]")
	case []byte:
		*j = append(JSONB(nil), v...)
	case string:
		*j = JSONB(v)
	default:
		return errors.Errorf("unsupported type for JSONB: %T", value)
	}
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("[]"), nil
	}
	return json.RawMessage(j).MarshalJSON()
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append(JSONB(nil), data...)
	return nil
}

// UsageLog is one MCP call (tools/call or batch). Details holds the
// executed tools as [{"task_id":..., "module":..., "tool":...}].
type UsageLog struct {
	ID        string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Subject   string    `gorm:"type:text;not null;index:idx_usage_subject_created,priority:1" json:"subject"`
	MetaTool  string    `gorm:"type:text;not null" json:"meta_tool"`
	RequestID *string   `gorm:"type:text" json:"request_id,omitempty"`
	Details   JSONB     `gorm:"type:jsonb;not null" json:"details"`
	CreatedAt time.Time `gorm:"not null;index:idx_usage_subject_created,priority:2" json:"created_at"`
}

func (UsageLog) TableName() string { return "usage_log" }
