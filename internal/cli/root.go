package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "planact",
	Short: "Unattended plan/act test harness for a coding-agent engine",
	Long: `planact drives a coding-agent engine through one task at a time:
it forces plan mode, switches to act once the plan reply arrives, approves
prompts on the operator's behalf and records the run to a JSON snapshot.

'planact serve' exposes the control endpoint; 'planact run' submits a task
to it and shuts it down afterwards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to planact.yaml (default: search up directory tree)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: tint, text, json")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
