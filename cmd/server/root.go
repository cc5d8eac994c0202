package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/urfv/yandex-tracker-mcp/internal/broker"
	"github.com/urfv/yandex-tracker-mcp/internal/config"
	"github.com/urfv/yandex-tracker-mcp/internal/db"
	"github.com/urfv/yandex-tracker-mcp/internal/mcp"
	"github.com/urfv/yandex-tracker-mcp/internal/modules"
	"github.com/urfv/yandex-tracker-mcp/internal/modules/tracker"
	"github.com/urfv/yandex-tracker-mcp/internal/observability"
	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

var rootCmd = &cobra.Command{
	Use:   "yandex-tracker-mcp",
	Short: "MCP server for Yandex Tracker",
	Long: `yandex-tracker-mcp exposes a Yandex Tracker organization as MCP tools:
issues, projects, boards and comments, returned as canonical JSON records.

Configuration comes from the environment (or a .env file). At minimum set
YANDEX_TRACKER_TOKEN (or YANDEX_TRACKER_IAM_TOKEN) and YANDEX_TRACKER_ORG_ID
(or YANDEX_TRACKER_CLOUD_ORG_ID).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(tokenCmd)
}

// app holds what both transports share.
type app struct {
	cfg      *config.Config
	database *gorm.DB
	usage    *broker.UsageBroker
}

// newApp loads configuration, sets up logging, registers the tracker
// module and opens the usage database when one is configured.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	observability.SetupLogger(os.Stderr, observability.LogLevel(cfg.LogLevel))
	observability.Init(cfg.Loki)
	cfg.LogSummary()

	client, err := trackerapi.NewClient(cfg.Tracker.Options())
	if err != nil {
		return nil, err
	}
	modules.RegisterModule(tracker.New(client))
	observability.Info("registered modules", "modules", modules.ListModules())

	a := &app{cfg: cfg}
	if cfg.Database.URL != "" {
		database, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.database = database
		a.usage = broker.NewUsageBroker(database)
		observability.Info("usage database connected")
	}
	return a, nil
}

// handler builds the MCP handler. Usage is recorded only with a database.
func (a *app) handler() *mcp.Handler {
	var recorder mcp.UsageRecorder
	if a.usage != nil {
		recorder = a.usage
	}
	return mcp.NewHandler(recorder, a.cfg.Server.Language)
}

func (a *app) close() {
	if a.usage != nil {
		a.usage.Flush()
	}
	if a.database != nil {
		if err := db.Close(a.database); err != nil {
			observability.Warn("failed to close database", "error", err)
		}
	}
}
