package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"OpenMCP-Orchestrator/internal/agent"
)

var askCmd = &cobra.Command{
	Use:   "ask [message...]",
	Short: "Run one request in-process and print the outcome",
	Long: `ask drives a single turn on the given thread without starting the HTTP API.
When the run pauses on a checkpoint the question is printed; answer it with
'orchestratord resume'. Resuming from a separate process requires a redis or
mysql checkpoint store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringP("thread", "t", "", "Thread ID (default: a new random thread)")
	askCmd.Flags().Bool("json", false, "Print the raw outcome as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	threadID, _ := cmd.Flags().GetString("thread")
	if threadID == "" {
		threadID = uuid.NewString()
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := bootstrap(cmd.Context(), configPath(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.runner.Run(cmd.Context(), threadID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), outcome, asJSON)
}

func printOutcome(w io.Writer, outcome *agent.Outcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	fmt.Fprintf(w, "thread: %s\n", outcome.ThreadID)
	if outcome.Status == agent.StatusWaiting && outcome.Interrupt != nil {
		fmt.Fprintf(w, "waiting (%s): %s\n", outcome.Interrupt.Kind, outcome.Interrupt.Question)
		if len(outcome.Interrupt.Preview) > 0 {
			preview, err := json.MarshalIndent(outcome.Interrupt.Preview, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "preview:\n%s\n", preview)
		}
		return nil
	}
	if outcome.Reason != "" {
		fmt.Fprintf(w, "reason: %s\n", outcome.Reason)
	}
	fmt.Fprintln(w, outcome.Answer)
	return nil
}
