package db

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONBValue(t *testing.T) {
	tests := []struct {
		name string
		j    JSONB
		want string
	}{
		{"tool details", JSONB(`[{"module":"tracker","tool":"get_issue"}]`), `[{"module":"tracker","tool":"get_issue"}]`},
		{"empty", JSONB(nil), "[]"},
		{"empty bytes", JSONB([]byte{}), "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, err := tt.j.Value()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if val != tt.want {
				t.Errorf("Value() = %q, want %q", val, tt.want)
			}
		})
	}
}

func TestJSONBScan(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{"from bytes", []byte(`[{"tool":"find_issues"}]`), `[{"tool":"find_issues"}]`, false},
		{"from string", `[]`, `[]`, false},
		{"from nil", nil, `[]`, false},
		{"unsupported type", 42, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			err := j.Scan(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unsupported type")
				}
				return
			}
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if string(j) != tt.want {
				t.Errorf("got %q, want %q", string(j), tt.want)
			}
		})
	}
}

func TestJSONBScanCopiesDriverBuffer(t *testing.T) {
	buf := []byte(`[1]`)
	var j JSONB
	if err := j.Scan(buf); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	buf[1] = '2'
	if string(j) != `[1]` {
		t.Errorf("JSONB aliases the driver buffer: %q", string(j))
	}
}

func TestJSONBRoundTripInStruct(t *testing.T) {
	entry := UsageLog{Subject: "user-1", MetaTool: "batch", Details: JSONB(`[{"tool":"count_issues"}]`)}
	b, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back UsageLog
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(back.Details) != `[{"tool":"count_issues"}]` {
		t.Errorf("details = %s", back.Details)
	}

	b, _ = json.Marshal(UsageLog{})
	var raw map[string]any
	json.Unmarshal(b, &raw)
	if _, ok := raw["details"].([]any); !ok {
		t.Errorf("empty details should marshal as [], got %v", raw["details"])
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	got := summarize([]toolCount{
		{Tool: "tracker:find_issues", Count: 5},
		{Tool: "tracker:get_issue", Count: 2},
	}, start, end)

	if got.TotalUsed != 7 {
		t.Errorf("TotalUsed = %d, want 7", got.TotalUsed)
	}
	if got.ByTool["tracker:find_issues"] != 5 {
		t.Errorf("ByTool = %v", got.ByTool)
	}
	if got.Period.Start != "2024-03-01" || got.Period.End != "2024-03-08" {
		t.Errorf("Period = %+v", got.Period)
	}

	empty := summarize(nil, start, end)
	if empty.TotalUsed != 0 || empty.ByTool == nil {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestDayStart(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	got := DayStart(time.Date(2024, 3, 2, 1, 30, 0, 0, msk))
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DayStart() = %v, want %v", got, want)
	}
}
