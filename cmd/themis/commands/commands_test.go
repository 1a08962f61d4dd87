package commands_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/cmd/themis/commands"
)

func run(t *testing.T, sub *cobra.Command, args ...string) string {
	t.Helper()
	root := &cobra.Command{Use: "themis", SilenceUsage: true}
	root.PersistentFlags().StringP("config", "c", "", "")
	root.PersistentFlags().StringP("log-level", "l", "", "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestRouteCmd(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"Qual o prazo para contestar?", "deadline-manager"},
		{"Revise este contrato", "document-analyzer"},
		{"Olá", "legal-research"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			out := run(t, commands.RouteCmd, "route", tt.msg)
			assert.Equal(t, tt.want, strings.TrimSpace(out))
		})
	}
}

func TestAgentsCmd(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("THEMIS_LLM_CHAT_MODEL", "modelo-teste")

	out := run(t, commands.AgentsCmd, "agents")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Contains(t, lines[0], "SLUG")
	assert.Contains(t, out, "petition-drafter")
	assert.Contains(t, out, "modelo-teste")
}
