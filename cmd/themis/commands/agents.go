package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/themis-legal/themis/internal/agents"
)

// AgentsCmd lists the specialized agents seeded on startup.
var AgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the specialized agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tMODEL\tTEMPERATURE\tMAX TOKENS")
		for _, a := range agents.Seed(cfg.LLM.ChatModel) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\n", a.Slug, a.Name, a.Model, a.Config.Temperature, a.Config.MaxTokens)
		}
		return w.Flush()
	},
}
