package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orchestratord",
	Short: "Plan, select, execute and review orchestrator with human checkpoints",
	Long: `orchestratord drives multi-plan conversations through a planner, a task
selector and a tool executor. Runs pause on human checkpoints and continue
through the resume command or the HTTP API.

Running 'orchestratord' without a subcommand is equivalent to 'orchestratord serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("OPENMCP_ORCH_CONFIG"), "Path to a YAML or JSON config file")
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
