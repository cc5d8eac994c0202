// Package config loads server configuration from the environment and an
// optional .env file.
package config

import (
	"io/fs"
	"strings"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

// Config holds all configuration parameters for the server.
type Config struct {
	Tracker  TrackerConfig
	Server   ServerConfig
	Gateway  GatewayConfig
	Loki     observability.LokiConfig
	Database DatabaseConfig
	LogLevel string
	AppEnv   string
}

// TrackerConfig holds upstream API credentials.
type TrackerConfig struct {
	APIURL     string
	Token      string
	IAMToken   string
	OrgID      string
	CloudOrgID string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               int
	RateLimitPerSecond int
	DailyToolLimit     int // 0 = unlimited
	Language           string
	InstanceID         string
	InstanceRegion     string
}

// GatewayConfig holds gateway token settings. Authorization is enabled
// when JWKSURL is set; SigningKey enables self-issued tokens.
type GatewayConfig struct {
	JWKSURL    string
	Issuer     string
	SigningKey string
}

// DatabaseConfig holds the optional usage database DSN.
type DatabaseConfig struct {
	URL string
}

// Options returns the trackerapi client options.
func (c TrackerConfig) Options() trackerapi.Options {
	return trackerapi.Options{
		BaseURL:    c.APIURL,
		Token:      c.Token,
		IAMToken:   c.IAMToken,
		OrgID:      c.OrgID,
		CloudOrgID: c.CloudOrgID,
	}
}

// LoadConfig loads .env (if present) and then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return load(newViper())
}

// LoadGatewayConfig loads only the gateway settings. Used by commands that
// never talk to the tracker.
func LoadGatewayConfig() (*GatewayConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	v := newViper()
	gw := &GatewayConfig{
		JWKSURL:    v.GetString("gateway.jwks_url"),
		Issuer:     v.GetString("gateway.issuer"),
		SigningKey: v.GetString("gateway.signing_key"),
	}
	if gw.SigningKey == "" {
		return nil, errors.New("missing required environment variables: [GATEWAY_SIGNING_KEY]")
	}
	return gw, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("tracker.api_url", "YANDEX_TRACKER_API_URL")
	v.BindEnv("tracker.token", "YANDEX_TRACKER_TOKEN")
	v.BindEnv("tracker.iam_token", "YANDEX_TRACKER_IAM_TOKEN")
	v.BindEnv("tracker.org_id", "YANDEX_TRACKER_ORG_ID")
	v.BindEnv("tracker.cloud_org_id", "YANDEX_TRACKER_CLOUD_ORG_ID")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.rate_limit", "RATE_LIMIT_PER_SECOND")
	v.BindEnv("server.daily_tool_limit", "DAILY_TOOL_LIMIT")
	v.BindEnv("server.language", "MCP_LANGUAGE")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("server.instance_region", "INSTANCE_REGION")
	v.BindEnv("gateway.jwks_url", "GATEWAY_JWKS_URL")
	v.BindEnv("gateway.issuer", "GATEWAY_ISSUER")
	v.BindEnv("gateway.signing_key", "GATEWAY_SIGNING_KEY")
	v.BindEnv("loki.url", "GRAFANA_LOKI_URL")
	v.BindEnv("loki.user", "GRAFANA_LOKI_USER")
	v.BindEnv("loki.api_key", "GRAFANA_LOKI_API_KEY")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("app_env", "APP_ENV")

	v.SetDefault("tracker.api_url", trackerapi.DefaultBaseURL)
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.daily_tool_limit", 0)
	v.SetDefault("server.language", "en-US")
	v.SetDefault("server.instance_id", "local")
	v.SetDefault("server.instance_region", "local")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_env", "development")
	return v
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Tracker: TrackerConfig{
			APIURL:     v.GetString("tracker.api_url"),
			Token:      v.GetString("tracker.token"),
			IAMToken:   v.GetString("tracker.iam_token"),
			OrgID:      v.GetString("tracker.org_id"),
			CloudOrgID: v.GetString("tracker.cloud_org_id"),
		},
		Server: ServerConfig{
			Port:               v.GetInt("server.port"),
			RateLimitPerSecond: v.GetInt("server.rate_limit"),
			DailyToolLimit:     v.GetInt("server.daily_tool_limit"),
			Language:           v.GetString("server.language"),
			InstanceID:         v.GetString("server.instance_id"),
			InstanceRegion:     v.GetString("server.instance_region"),
		},
		Gateway: GatewayConfig{
			JWKSURL:    v.GetString("gateway.jwks_url"),
			Issuer:     v.GetString("gateway.issuer"),
			SigningKey: v.GetString("gateway.signing_key"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		LogLevel: v.GetString("log_level"),
		AppEnv:   v.GetString("app_env"),
	}
	cfg.Loki = observability.LokiConfig{
		URL:            v.GetString("loki.url"),
		User:           v.GetString("loki.user"),
		APIKey:         v.GetString("loki.api_key"),
		InstanceID:     cfg.Server.InstanceID,
		InstanceRegion: cfg.Server.InstanceRegion,
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig ensures that all required configuration values are provided.
func validateConfig(cfg *Config) error {
	var missingVars []string

	if cfg.Tracker.Token == "" && cfg.Tracker.IAMToken == "" {
		missingVars = append(missingVars, "YANDEX_TRACKER_TOKEN or YANDEX_TRACKER_IAM_TOKEN")
	}
	if cfg.Tracker.OrgID == "" && cfg.Tracker.CloudOrgID == "" {
		missingVars = append(missingVars, "YANDEX_TRACKER_ORG_ID or YANDEX_TRACKER_CLOUD_ORG_ID")
	}
	if len(missingVars) > 0 {
		return errors.Errorf("missing required environment variables: %v", missingVars)
	}

	if cfg.Tracker.Token != "" && cfg.Tracker.IAMToken != "" {
		return errors.New("set only one of YANDEX_TRACKER_TOKEN and YANDEX_TRACKER_IAM_TOKEN")
	}
	if cfg.Tracker.OrgID != "" && cfg.Tracker.CloudOrgID != "" {
		return errors.New("set only one of YANDEX_TRACKER_ORG_ID and YANDEX_TRACKER_CLOUD_ORG_ID")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Errorf("invalid PORT: %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimitPerSecond <= 0 {
		return errors.Errorf("invalid RATE_LIMIT_PER_SECOND: %d", cfg.Server.RateLimitPerSecond)
	}
	if cfg.Server.DailyToolLimit < 0 {
		return errors.Errorf("invalid DAILY_TOOL_LIMIT: %d", cfg.Server.DailyToolLimit)
	}
	return nil
}

// LogSummary logs the effective configuration with secrets masked.
func (c *Config) LogSummary() {
	observability.Info("configuration loaded",
		"app_env", c.AppEnv,
		"api_url", c.Tracker.APIURL,
		"token", observability.MaskSensitive(c.Tracker.Token),
		"iam_token", observability.MaskSensitive(c.Tracker.IAMToken),
		"org_id", c.Tracker.OrgID,
		"cloud_org_id", c.Tracker.CloudOrgID,
		"database", c.Database.URL != "",
		"gateway_auth", c.Gateway.JWKSURL != "",
		"daily_tool_limit", c.Server.DailyToolLimit,
	)
}
