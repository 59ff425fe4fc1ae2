package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"OpenMCP-Orchestrator/internal/auth"
	"OpenMCP-Orchestrator/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed API token (auth.mode must be jwt)",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringP("subject", "s", "", "Token subject, usually the operator name (required)")
	tokenCmd.Flags().StringP("permissions", "p", auth.PermissionRunsWrite+","+auth.PermissionRunsApprove, "Comma-separated permissions")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default: auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, _ []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	rawPerms, _ := cmd.Flags().GetString("permissions")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}
	svc, err := authService(cfg.Auth)
	if err != nil {
		return err
	}
	token, expires, err := svc.IssueToken(subject, auth.ParsePermissions(rawPerms), ttl)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, token)
	fmt.Fprintf(out, "expires: %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}
