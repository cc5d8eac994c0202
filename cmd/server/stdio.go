package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdin/stdout",
	Long: `Serve newline-delimited JSON-RPC on stdin/stdout, the transport MCP
clients use when they launch the server as a subprocess. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		observability.Info("serving MCP on stdio")
		return a.handler().ServeStdio(ctx, os.Stdin, os.Stdout)
	},
}
