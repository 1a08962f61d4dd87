package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/themis-legal/themis/internal/orchestrator"
)

// RouteCmd prints the agent keyword routing would pick for a message.
var RouteCmd = &cobra.Command{
	Use:   "route [message]",
	Short: "Show which agent a message routes to",
	Example: `  themis route "Qual o prazo para contestar?"
  # deadline-manager`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := orchestrator.Route(orchestrator.DefaultRules, strings.Join(args, " "))
		_, err := fmt.Fprintln(cmd.OutOrStdout(), slug)
		return err
	},
}
