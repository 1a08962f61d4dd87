package orchestrator

import (
	"fmt"
	"strings"

	"github.com/themis-legal/themis/internal/agents"
	"github.com/themis-legal/themis/internal/engine"
)

// Step is one agent run inside a workflow. The agent receives Instruction
// followed by the caller's original input.
type Step struct {
	Agent       string `json:"agent"`
	Instruction string `json:"instruction"`
}

// Workflow is a fixed, named sequence of steps.
type Workflow struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Workflows are the only pipelines the orchestrator runs.
var Workflows = []Workflow{
	{
		Name:        "full-case-analysis",
		Description: "Análise completa: documentos, pesquisa, estratégia e comunicação ao cliente.",
		Steps: []Step{
			{Agent: agents.DocumentAnalyzer, Instruction: "Analise os documentos relacionados ao caso e identifique fatos, partes e pontos críticos."},
			{Agent: agents.LegalResearch, Instruction: "Pesquise a legislação e a jurisprudência aplicáveis ao caso."},
			{Agent: agents.CaseStrategy, Instruction: "Com base na análise e na pesquisa, proponha a estratégia processual e avalie os riscos."},
			{Agent: agents.ClientCommunicator, Instruction: "Redija uma comunicação ao cliente resumindo a situação e os próximos passos."},
		},
	},
	{
		Name:        "deadline-review",
		Description: "Revisão de documentos e controle dos prazos decorrentes.",
		Steps: []Step{
			{Agent: agents.DocumentAnalyzer, Instruction: "Identifique nos documentos intimações, publicações e obrigações com prazo."},
			{Agent: agents.DeadlineManager, Instruction: "Calcule os prazos processuais identificados e indique as datas de vencimento."},
		},
	},
	{
		Name:        "petition-preparation",
		Description: "Pesquisa de fundamentos seguida da redação da peça.",
		Steps: []Step{
			{Agent: agents.LegalResearch, Instruction: "Pesquise os fundamentos legais e precedentes para a peça."},
			{Agent: agents.PetitionDrafter, Instruction: "Redija a minuta da peça processual com os fundamentos pesquisados."},
		},
	},
}

// LookupWorkflow finds a workflow by name.
func LookupWorkflow(name string) (Workflow, bool) {
	for _, w := range Workflows {
		if w.Name == name {
			return w, true
		}
	}
	return Workflow{}, false
}

// StepInput is what a step's agent receives.
func StepInput(s Step, input string) string {
	return s.Instruction + "\n\n" + input
}

// StepResult is the outcome of one completed step.
type StepResult struct {
	Step int `json:"step"`
	*engine.Result
}

// WorkflowResult aggregates a completed workflow.
type WorkflowResult struct {
	ConversationID string       `json:"conversation_id"`
	Workflow       string       `json:"workflow"`
	Steps          []StepResult `json:"steps"`
	TotalTokens    int64        `json:"total_tokens"`
	Summary        string       `json:"summary"`
}

// Summarize lists token, citation and tool counts per step.
func Summarize(name string, steps []StepResult) string {
	var b strings.Builder
	var total int64
	fmt.Fprintf(&b, "Workflow %s concluído (%d etapas)\n", name, len(steps))
	for _, s := range steps {
		total += s.TokensUsed
		fmt.Fprintf(&b, "%d. %s: %d tokens, %d citações, %d ferramentas\n",
			s.Step, s.Agent, s.TokensUsed, len(s.Citations), len(s.ToolCalls))
	}
	fmt.Fprintf(&b, "Total: %d tokens", total)
	return b.String()
}
