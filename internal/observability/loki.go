package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// LokiConfig configures the Loki push client. Shipping is disabled unless
// URL, User and APIKey are all set.
type LokiConfig struct {
	URL            string
	User           string
	APIKey         string
	AppName        string
	InstanceID     string
	InstanceRegion string
}

func (c LokiConfig) enabled() bool {
	return c.URL != "" && c.User != "" && c.APIKey != ""
}

type LokiClient struct {
	url            string
	username       string
	apiKey         string
	httpClient     *http.Client
	enabled        bool
	appName        string
	instanceID     string
	instanceRegion string
}

// Loki Push API format
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

var defaultClient *LokiClient

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newLokiClient(cfg LokiConfig) *LokiClient {
	c := &LokiClient{
		appName:        firstNonEmpty(cfg.AppName, "yandex-tracker-mcp"),
		instanceID:     firstNonEmpty(cfg.InstanceID, "local"),
		instanceRegion: firstNonEmpty(cfg.InstanceRegion, "local"),
	}
	if !cfg.enabled() {
		return c
	}
	c.url = cfg.URL + "/loki/api/v1/push"
	c.username = cfg.User
	c.apiKey = cfg.APIKey
	c.httpClient = &http.Client{Timeout: 5 * time.Second}
	c.enabled = true
	return c
}

// Init installs the process-wide Loki client.
func Init(cfg LokiConfig) {
	defaultClient = newLokiClient(cfg)
	if defaultClient.enabled {
		Info("loki shipping enabled", "url", cfg.URL, "user", MaskSensitive(cfg.User))
	} else {
		Debug("loki not configured, shipping disabled")
	}
}

// Push ships one entry asynchronously. It is a no-op when Loki is disabled.
func Push(labels map[string]string, data map[string]any) {
	if defaultClient == nil || !defaultClient.enabled {
		return
	}

	go defaultClient.push(labels, data)
}

func (c *LokiClient) push(labels map[string]string, data map[string]any) {
	if labels == nil {
		labels = make(map[string]string)
	}
	labels["app"] = c.appName
	labels["instance"] = c.instanceID
	labels["region"] = c.instanceRegion

	dataJSON, err := json.Marshal(data)
	if err != nil {
		Warn("loki: failed to marshal data", "error", err)
		return
	}

	timestamp := strconv.FormatInt(time.Now().UnixNano(), 10)

	req := lokiPushRequest{
		Streams: []lokiStream{
			{
				Stream: labels,
				Values: [][]string{
					{timestamp, string(dataJSON)},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		Warn("loki: failed to marshal request", "error", err)
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		Warn("loki: failed to create request", "error", err)
		return
	}

	httpReq.SetBasicAuth(c.username, c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		Warn("loki: failed to send", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		Warn("loki: unexpected status code", "status", resp.StatusCode)
	}
}

// LogToolCall logs a tool call locally and to Loki.
func LogToolCall(requestID, subject, module, tool string, durationMs int64, status string, errMsg string) {
	level := "info"
	if status == "error" {
		level = "error"
		Warn("tool call failed", "request_id", requestID, "module", module, "tool", tool, "duration_ms", durationMs, "error", errMsg)
	} else {
		Debug("tool call", "request_id", requestID, "module", module, "tool", tool, "duration_ms", durationMs)
	}
	labels := map[string]string{
		"module": module,
		"status": status,
		"level":  level,
	}

	data := map[string]any{
		"request_id":  requestID,
		"subject":     subject,
		"module":      module,
		"tool":        tool,
		"duration_ms": durationMs,
		"status":      status,
	}

	if errMsg != "" {
		data["error"] = errMsg
	}

	Push(labels, data)
}

// LogRequest logs an incoming HTTP request to Loki.
func LogRequest(method, path string, statusCode int, durationMs int64) {
	labels := map[string]string{
		"type":   "request",
		"method": method,
		"path":   path,
		"level":  "info",
	}

	data := map[string]any{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	Push(labels, data)
}

// LogError logs an error locally and to Loki.
func LogError(context string, err error) {
	Error(context, "error", err)
	labels := map[string]string{
		"type":  "error",
		"level": "error",
	}

	data := map[string]any{
		"context": context,
		"error":   err.Error(),
	}

	Push(labels, data)
}

// LogSecurityEvent logs a security-related event locally and to Loki.
func LogSecurityEvent(requestID, subject, event string, details map[string]any) {
	Warn("security event", "event", event, "request_id", requestID, "subject", subject)
	labels := map[string]string{
		"type":  "security",
		"level": "warn",
	}

	data := map[string]any{
		"request_id": requestID,
		"subject":    subject,
		"event":      event,
	}
	for k, v := range details {
		data[k] = v
	}

	Push(labels, data)
}
