package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

var allVars = []string{
	"YANDEX_TRACKER_API_URL", "YANDEX_TRACKER_TOKEN", "YANDEX_TRACKER_IAM_TOKEN",
	"YANDEX_TRACKER_ORG_ID", "YANDEX_TRACKER_CLOUD_ORG_ID", "PORT",
	"RATE_LIMIT_PER_SECOND", "DAILY_TOOL_LIMIT", "MCP_LANGUAGE", "INSTANCE_ID",
	"INSTANCE_REGION", "GATEWAY_JWKS_URL", "GATEWAY_ISSUER", "GATEWAY_SIGNING_KEY",
	"GRAFANA_LOKI_URL", "GRAFANA_LOKI_USER", "GRAFANA_LOKI_API_KEY",
	"DATABASE_URL", "LOG_LEVEL", "APP_ENV",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, env[k])
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"YANDEX_TRACKER_TOKEN":  "y0_token",
		"YANDEX_TRACKER_ORG_ID": "12345",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, trackerapi.DefaultBaseURL, cfg.Tracker.APIURL)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RateLimitPerSecond)
	assert.Equal(t, 0, cfg.Server.DailyToolLimit)
	assert.Equal(t, "en-US", cfg.Server.Language)
	assert.Equal(t, "local", cfg.Server.InstanceID)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Gateway.JWKSURL)
	assert.Empty(t, cfg.Database.URL)

	opts := cfg.Tracker.Options()
	assert.Equal(t, "y0_token", opts.Token)
	assert.Equal(t, "12345", opts.OrgID)
	assert.Empty(t, opts.CloudOrgID)
}

func TestLoadConfigOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"YANDEX_TRACKER_IAM_TOKEN":    "t1.iam",
		"YANDEX_TRACKER_CLOUD_ORG_ID": "bpf-cloud",
		"YANDEX_TRACKER_API_URL":      "http://tracker.local",
		"PORT":                        "9000",
		"RATE_LIMIT_PER_SECOND":       "3",
		"DAILY_TOOL_LIMIT":            "500",
		"GATEWAY_JWKS_URL":            "http://gw/.well-known/jwks.json",
		"GATEWAY_ISSUER":              "my-gateway",
		"GRAFANA_LOKI_URL":            "http://loki",
		"GRAFANA_LOKI_USER":           "42",
		"GRAFANA_LOKI_API_KEY":        "secret",
		"INSTANCE_ID":                 "i-7",
		"DATABASE_URL":                "postgres://localhost/usage",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://tracker.local", cfg.Tracker.APIURL)
	assert.Equal(t, "t1.iam", cfg.Tracker.IAMToken)
	assert.Equal(t, "bpf-cloud", cfg.Tracker.CloudOrgID)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Server.RateLimitPerSecond)
	assert.Equal(t, 500, cfg.Server.DailyToolLimit)
	assert.Equal(t, "my-gateway", cfg.Gateway.Issuer)
	assert.Equal(t, "postgres://localhost/usage", cfg.Database.URL)
	assert.Equal(t, "42", cfg.Loki.User)
	assert.Equal(t, "i-7", cfg.Loki.InstanceID)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing token",
			env:     map[string]string{"YANDEX_TRACKER_ORG_ID": "1"},
			wantErr: "YANDEX_TRACKER_TOKEN or YANDEX_TRACKER_IAM_TOKEN",
		},
		{
			name:    "missing org",
			env:     map[string]string{"YANDEX_TRACKER_TOKEN": "t"},
			wantErr: "YANDEX_TRACKER_ORG_ID or YANDEX_TRACKER_CLOUD_ORG_ID",
		},
		{
			name:    "both tokens",
			env:     map[string]string{"YANDEX_TRACKER_TOKEN": "t", "YANDEX_TRACKER_IAM_TOKEN": "i", "YANDEX_TRACKER_ORG_ID": "1"},
			wantErr: "only one of YANDEX_TRACKER_TOKEN",
		},
		{
			name:    "both orgs",
			env:     map[string]string{"YANDEX_TRACKER_TOKEN": "t", "YANDEX_TRACKER_ORG_ID": "1", "YANDEX_TRACKER_CLOUD_ORG_ID": "2"},
			wantErr: "only one of YANDEX_TRACKER_ORG_ID",
		},
		{
			name:    "bad port",
			env:     map[string]string{"YANDEX_TRACKER_TOKEN": "t", "YANDEX_TRACKER_ORG_ID": "1", "PORT": "70000"},
			wantErr: "invalid PORT",
		},
		{
			name:    "negative daily limit",
			env:     map[string]string{"YANDEX_TRACKER_TOKEN": "t", "YANDEX_TRACKER_ORG_ID": "1", "DAILY_TOOL_LIMIT": "-1"},
			wantErr: "invalid DAILY_TOOL_LIMIT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	setEnv(t, map[string]string{"GATEWAY_SIGNING_KEY": "c2VlZA==", "GATEWAY_ISSUER": "gw"})
	gw, err := LoadGatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, "c2VlZA==", gw.SigningKey)
	assert.Equal(t, "gw", gw.Issuer)

	setEnv(t, nil)
	_, err = LoadGatewayConfig()
	assert.ErrorContains(t, err, "GATEWAY_SIGNING_KEY")
}
