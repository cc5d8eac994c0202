package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/urfv/yandex-tracker-mcp/internal/auth"
	"github.com/urfv/yandex-tracker-mcp/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a gateway token signed with GATEWAY_SIGNING_KEY",
	Long: `Issue a gateway token for a caller. The serve command publishes the
matching key at /.well-known/jwks.json, so pointing GATEWAY_JWKS_URL at it
makes the server accept the tokens it issued.

Example:
  yandex-tracker-mcp token --sub alice --tools tracker:get_issue --tools tracker:find_issues`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := cmd.Flags().GetString("sub")
		if err != nil {
			return err
		}
		email, err := cmd.Flags().GetString("email")
		if err != nil {
			return err
		}
		tools, err := cmd.Flags().GetStringArray("tools")
		if err != nil {
			return err
		}
		ttl, err := cmd.Flags().GetDuration("ttl")
		if err != nil {
			return err
		}

		gw, err := config.LoadGatewayConfig()
		if err != nil {
			return err
		}
		signer, err := auth.NewSigner(gw.SigningKey, gw.Issuer)
		if err != nil {
			return err
		}

		// No --tools flag means an unrestricted token.
		if len(tools) == 0 {
			tools = nil
		}
		token, err := signer.Issue(subject, email, tools, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("sub", "", "Caller identity (sub claim)")
	tokenCmd.Flags().String("email", "", "Caller email")
	tokenCmd.Flags().StringArray("tools", nil, "Allowed tool ID, e.g. tracker:get_issue or tracker:* (repeatable)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("sub")
}
