// Themis serves the legal assistant's agent orchestration core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/themis-legal/themis/cmd/themis/commands"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "themis",
		Short: "Themis - legal agent orchestration",
		Long: `Themis - agent orchestration for legal practice

Routes user messages to specialized legal agents, runs their tool loop
against the practice's clients, cases and documents, and grounds answers
in a searchable knowledge base of legislation and case law.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return commands.SetupLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.RouteCmd)
	rootCmd.AddCommand(commands.AgentsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
