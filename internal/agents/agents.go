// Package agents is the closed table of agent specializations. Each entry
// pairs a slug with its system prompt, context strategy and extra tools.
// The table is built once at startup; nothing dispatches on slugs at runtime
// except the lookup in the orchestrator.
package agents

import (
	"context"

	"github.com/themis-legal/themis/internal/engine"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/internal/tools"
	"github.com/themis-legal/themis/pkg/models"
)

// Agent slugs.
const (
	LegalResearch      = "legal-research"
	DocumentAnalyzer   = "document-analyzer"
	CaseStrategy       = "case-strategy"
	ClientCommunicator = "client-communicator"
	DeadlineManager    = "deadline-manager"
	PetitionDrafter    = "petition-drafter"
)

// Default is the agent used when no routing rule matches.
const Default = LegalResearch

// ToolDeps are the collaborators the agent-specific tools need.
type ToolDeps struct {
	Retriever   tools.Retriever
	Entities    store.EntityRepository
	CaseNumbers tools.CaseNumberValidator
	Holidays    tools.NationalHolidays
}

// profile is one row of the table.
type profile struct {
	slug        string
	name        string
	description string
	temperature float64
	maxTokens   int
	prompt      string
	context     engine.ContextStrategy
	tools       func(ToolDeps) []tools.Tool
}

var table = []profile{
	{
		slug:        LegalResearch,
		name:        "Pesquisa Jurídica",
		description: "Pesquisa legislação, jurisprudência e doutrina para responder dúvidas jurídicas.",
		temperature: 0.3,
		maxTokens:   2000,
		prompt: "Você é um assistente de pesquisa jurídica especializado no direito brasileiro. " +
			"Responda com precisão técnica, indique os dispositivos legais e precedentes aplicáveis " +
			"e deixe claro quando houver divergência jurisprudencial.",
		context: comprehensive,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{
				tools.SearchLegislationTool(d.Retriever),
				tools.SearchJurisprudenceTool(d.Retriever),
			}
		},
	},
	{
		slug:        DocumentAnalyzer,
		name:        "Análise de Documentos",
		description: "Analisa contratos, petições e demais documentos do processo.",
		temperature: 0.2,
		maxTokens:   2500,
		prompt: "Você é um analista de documentos jurídicos. Identifique partes, obrigações, prazos, " +
			"cláusulas de risco e inconsistências. Estruture a análise em tópicos objetivos.",
		context: documents,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{tools.SearchCaseDocumentsTool(d.Retriever, d.Entities)}
		},
	},
	{
		slug:        CaseStrategy,
		name:        "Estratégia Processual",
		description: "Avalia riscos e propõe estratégias e recursos para o caso.",
		temperature: 0.5,
		maxTokens:   2500,
		prompt: "Você é um estrategista processual. Avalie pontos fortes e fracos do caso, riscos, " +
			"alternativas e recursos cabíveis, fundamentando cada recomendação.",
		context: comprehensive,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{
				tools.SearchJurisprudenceTool(d.Retriever),
				tools.ClientOverviewTool(d.Entities),
			}
		},
	},
	{
		slug:        ClientCommunicator,
		name:        "Comunicação com Clientes",
		description: "Redige comunicações claras para clientes leigos.",
		temperature: 0.7,
		maxTokens:   1500,
		prompt: "Você redige comunicações para clientes de um escritório de advocacia. Use linguagem " +
			"clara e acessível, evite jargão e seja cordial e objetivo.",
		context: engine.NoContext,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{tools.ClientOverviewTool(d.Entities)}
		},
	},
	{
		slug:        DeadlineManager,
		name:        "Gestão de Prazos",
		description: "Calcula e acompanha prazos processuais.",
		temperature: 0.1,
		maxTokens:   1500,
		prompt: "Você controla prazos processuais. Conte prazos em dias úteis conforme o CPC, " +
			"use a ferramenta de cálculo de prazos e destaque prazos próximos do vencimento.",
		context: legislation,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{
				tools.CalculateDeadlineTool(d.Holidays),
				tools.ValidateCaseNumberTool(d.CaseNumbers),
			}
		},
	},
	{
		slug:        PetitionDrafter,
		name:        "Redação de Peças",
		description: "Redige minutas de petições e peças processuais.",
		temperature: 0.4,
		maxTokens:   4000,
		prompt: "Você redige peças processuais. Siga a estrutura formal (endereçamento, qualificação, " +
			"fatos, fundamentos, pedidos) e fundamente com legislação e jurisprudência.",
		context: comprehensive,
		tools: func(d ToolDeps) []tools.Tool {
			return []tools.Tool{
				tools.SearchLegislationTool(d.Retriever),
				tools.SearchJurisprudenceTool(d.Retriever),
				tools.ValidateCaseNumberTool(d.CaseNumbers),
			}
		},
	},
}

// ── Context strategies ──────────────────────────────────────

func comprehensive(ctx context.Context, r engine.Retriever, req engine.ContextRequest) rag.ContextResult {
	return r.Comprehensive(ctx, req.Query, req.CaseID)
}

func documents(ctx context.Context, r engine.Retriever, req engine.ContextRequest) rag.ContextResult {
	return r.Document(ctx, req.Query, req.CaseID)
}

func legislation(ctx context.Context, r engine.Retriever, req engine.ContextRequest) rag.ContextResult {
	return r.Legislation(ctx, req.Query)
}

// ── Table accessors ─────────────────────────────────────────

// Slugs returns every agent slug in table order.
func Slugs() []string {
	out := make([]string, len(table))
	for i, s := range table {
		out[i] = s.slug
	}
	return out
}

// Known reports whether slug is in the table.
func Known(slug string) bool {
	for _, s := range table {
		if s.slug == slug {
			return true
		}
	}
	return false
}

// Profiles builds the engine profile for every agent.
func Profiles(d ToolDeps) []engine.Profile {
	if d.CaseNumbers == nil {
		d.CaseNumbers = tools.FormatValidator{}
	}
	out := make([]engine.Profile, len(table))
	for i, s := range table {
		out[i] = engine.Profile{
			Slug:         s.slug,
			SystemPrompt: s.prompt,
			Context:      s.context,
			Tools:        s.tools(d),
		}
	}
	return out
}

// Build creates one engine per profile, keyed by slug.
func Build(profiles []engine.Profile, deps engine.Deps) (map[string]*engine.Agent, error) {
	out := make(map[string]*engine.Agent, len(profiles))
	for _, p := range profiles {
		a, err := engine.New(p, deps)
		if err != nil {
			return nil, err
		}
		out[p.Slug] = a
	}
	return out, nil
}

// Seed returns the default agent rows, all using model.
func Seed(model string) []models.Agent {
	out := make([]models.Agent, len(table))
	for i, s := range table {
		out[i] = models.Agent{
			Slug:        s.slug,
			Name:        s.name,
			Description: s.description,
			Model:       model,
			Config:      models.AgentConfig{Temperature: s.temperature, MaxTokens: s.maxTokens},
			Active:      true,
		}
	}
	return out
}

// SeedStore upserts the default rows into s.
func SeedStore(ctx context.Context, s store.AgentStore, model string) error {
	for _, a := range Seed(model) {
		if err := s.UpsertAgent(ctx, &a); err != nil {
			return err
		}
	}
	return nil
}
