package orchestrator

import (
	"strings"

	"github.com/themis-legal/themis/internal/agents"
)

// Rule routes input containing any of Keywords to Agent.
type Rule struct {
	Keywords []string
	Agent    string
}

// Matches reports whether lowered (already lowercased input) contains any keyword.
func (r Rule) Matches(lowered string) bool {
	for _, kw := range r.Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// DefaultRules is the routing table. Order matters: the first matching rule
// wins, so "prazo para recurso" goes to the deadline manager, not strategy.
var DefaultRules = []Rule{
	{Keywords: []string{"documento", "contrato", "cláusula", "clausula"}, Agent: agents.DocumentAnalyzer},
	{Keywords: []string{"prazo", "deadline", "vencimento", "audiência", "audiencia", "intimação", "intimacao"}, Agent: agents.DeadlineManager},
	{Keywords: []string{"estratégia", "estrategia", "recurso", "risco"}, Agent: agents.CaseStrategy},
	{Keywords: []string{"cliente", "e-mail", "email", "carta", "comunicar"}, Agent: agents.ClientCommunicator},
	{Keywords: []string{"redigir", "petição", "peticao", "minuta"}, Agent: agents.PetitionDrafter},
	{Keywords: []string{"jurisprudência", "jurisprudencia", "lei", "pesquisa", "súmula", "sumula"}, Agent: agents.LegalResearch},
}

// Route returns the agent of the first rule matching input, or
// agents.Default when none does.
func Route(rules []Rule, input string) string {
	lowered := strings.ToLower(input)
	for _, r := range rules {
		if r.Matches(lowered) {
			return r.Agent
		}
	}
	return agents.Default
}
