package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetupLogger(t *testing.T) {
	originalLogger := defaultLogger
	defer func() { defaultLogger = originalLogger }()

	tests := []struct {
		level     LogLevel
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{LevelDebug, true, true, true},
		{LevelInfo, false, true, true},
		{"INFO", false, true, true},
		{LevelWarn, false, false, true},
		{LevelError, false, false, false},
		{"", false, true, true},
		{"invalid", false, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			SetupLogger(&buf, tt.level)

			check := func(logFunc func(string, ...any), name string, want bool) {
				buf.Reset()
				logFunc("probe", "key", "value")
				got := strings.Contains(buf.String(), "probe")
				if got != want {
					t.Errorf("%s logged = %v, want %v (level %q)", name, got, want, tt.level)
				}
			}
			check(Debug, "debug", tt.wantDebug)
			check(Info, "info", tt.wantInfo)
			check(Warn, "warn", tt.wantWarn)
			check(Error, "error", true)
		})
	}
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "<not set>"},
		{"abc", "<set>"},
		{"abcd", "<set>"},
		{"y0_AgAAAAB3", "y0_A...***"},
	}

	for _, tt := range tests {
		if got := MaskSensitive(tt.input); got != tt.want {
			t.Errorf("MaskSensitive(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLokiDisabledWithoutCredentials(t *testing.T) {
	c := newLokiClient(LokiConfig{URL: "http://loki.local"})
	if c.enabled {
		t.Error("client should be disabled without user and api key")
	}
	if c.appName != "yandex-tracker-mcp" || c.instanceID != "local" {
		t.Errorf("defaults = %q/%q", c.appName, c.instanceID)
	}
}

func TestLokiPush(t *testing.T) {
	var (
		gotBody []byte
		gotUser string
		gotPass string
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newLokiClient(LokiConfig{URL: srv.URL, User: "123", APIKey: "secret", InstanceID: "i-1"})
	c.push(map[string]string{"module": "tracker"}, map[string]any{"tool": "get_issue"})

	if gotPath != "/loki/api/v1/push" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "123" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}

	var req lokiPushRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal push body: %v", err)
	}
	if len(req.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(req.Streams))
	}
	stream := req.Streams[0]
	if stream.Stream["module"] != "tracker" || stream.Stream["instance"] != "i-1" || stream.Stream["app"] != "yandex-tracker-mcp" {
		t.Errorf("labels = %v", stream.Stream)
	}
	if len(stream.Values) != 1 || stream.Values[0][1] != `{"tool":"get_issue"}` {
		t.Errorf("values = %v", stream.Values)
	}
}

func TestLogHelpersWithoutLoki(t *testing.T) {
	originalLogger := defaultLogger
	originalClient := defaultClient
	defer func() {
		defaultLogger = originalLogger
		defaultClient = originalClient
	}()

	var buf bytes.Buffer
	SetupLogger(&buf, LevelDebug)
	Init(LokiConfig{})

	LogToolCall("req-1", "user-1", "tracker", "get_issue", 12, "error", "Issue TASK-999 not found")
	LogError("startup", errors.New("boom"))
	LogSecurityEvent("req-2", "", "invalid_gateway_token", map[string]any{"remote_addr": "10.0.0.1"})

	out := buf.String()
	for _, want := range []string{"tool call failed", "Issue TASK-999 not found", "startup", "boom", "invalid_gateway_token"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
