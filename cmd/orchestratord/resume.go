package main

import (
	"strings"

	"github.com/spf13/cobra"

	"OpenMCP-Orchestrator/internal/agent"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [reply...]",
	Short: "Answer the pending checkpoint of a thread",
	Long:  `resume supplies the human reply for a paused run and continues it in-process.`,
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().StringP("thread", "t", "", "Thread ID to resume (required)")
	resumeCmd.Flags().StringP("decision", "d", "", "Explicit review decision: approve, reject or update")
	resumeCmd.Flags().Bool("json", false, "Print the raw outcome as JSON")
	_ = resumeCmd.MarkFlagRequired("thread")
}

func runResume(cmd *cobra.Command, args []string) error {
	threadID, _ := cmd.Flags().GetString("thread")
	rawDecision, _ := cmd.Flags().GetString("decision")
	asJSON, _ := cmd.Flags().GetBool("json")

	decision, err := agent.ParseDecision(rawDecision)
	if err != nil {
		return err
	}
	input := agent.ResumeInput{ExternalInput: strings.Join(args, " "), Decision: decision}

	a, err := bootstrap(cmd.Context(), configPath(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.runner.Resume(cmd.Context(), threadID, input)
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), outcome, asJSON)
}
