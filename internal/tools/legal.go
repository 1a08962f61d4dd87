package tools

import (
	"context"
	"errors"
	"time"

	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/pkg/models"
)

// Retriever is the slice of the retrieval service the research tools use.
type Retriever interface {
	Legislation(ctx context.Context, query string) rag.ContextResult
	Jurisprudence(ctx context.Context, query string) rag.ContextResult
	Document(ctx context.Context, query, caseID string) rag.ContextResult
}

type queryArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Query  string `json:"query" jsonschema:"required,description=Pergunta ou termos de pesquisa"`
}

type caseDocumentsArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Query  string `json:"query" jsonschema:"required,description=O que procurar nos documentos"`
	CaseID string `json:"case_id" jsonschema:"required,description=Identificador do processo"`
}

type caseNumberArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Number string `json:"number" jsonschema:"required,description=Número do processo no padrão CNJ"`
}

type deadlineArgs struct {
	UserID    string   `json:"user_id" jsonschema:"-"`
	StartDate string   `json:"start_date" jsonschema:"required,description=Data da intimação ou publicação (YYYY-MM-DD)"`
	Days      int      `json:"days" jsonschema:"required,minimum=1,maximum=365,description=Prazo em dias úteis"`
	Holidays  []string `json:"holidays,omitempty" jsonschema:"description=Feriados locais adicionais (YYYY-MM-DD)"`
}

type clientOverviewArgs struct {
	UserID   string `json:"user_id" jsonschema:"-"`
	ClientID string `json:"client_id" jsonschema:"required,description=Identificador do cliente"`
}

func retrieval(res rag.ContextResult) map[string]any {
	citations := rag.Citations(res.Sources)
	if citations == nil {
		citations = []models.Citation{}
	}
	return map[string]any{"context": res.Context, "sources": citations, "count": len(citations)}
}

// SearchLegislationTool searches statutes in the knowledge base.
func SearchLegislationTool(r Retriever) Tool {
	return New("search_legislation", "Pesquisa legislação (leis, códigos, súmulas vinculantes) na base de conhecimento.",
		func(ctx context.Context, a queryArgs) (any, error) {
			return retrieval(r.Legislation(ctx, a.Query)), nil
		})
}

// SearchJurisprudenceTool searches court decisions in the knowledge base.
func SearchJurisprudenceTool(r Retriever) Tool {
	return New("search_jurisprudence", "Pesquisa jurisprudência e precedentes na base de conhecimento.",
		func(ctx context.Context, a queryArgs) (any, error) {
			return retrieval(r.Jurisprudence(ctx, a.Query)), nil
		})
}

// SearchCaseDocumentsTool searches ingested documents of a case the caller owns.
func SearchCaseDocumentsTool(r Retriever, repo store.EntityRepository) Tool {
	return New("search_case_documents", "Pesquisa trechos relevantes nos documentos ingeridos de um processo do usuário.",
		func(ctx context.Context, a caseDocumentsArgs) (any, error) {
			if _, err := repo.GetCase(ctx, a.UserID, a.CaseID); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return NotFound("Case"), nil
				}
				return nil, err
			}
			return retrieval(r.Document(ctx, a.Query, a.CaseID)), nil
		})
}

// ValidateCaseNumberTool checks a CNJ case number through v.
func ValidateCaseNumberTool(v CaseNumberValidator) Tool {
	return New("validate_case_number", "Valida e decompõe um número de processo no padrão CNJ.",
		func(ctx context.Context, a caseNumberArgs) (any, error) {
			return v.Validate(ctx, a.Number)
		})
}

// CalculateDeadlineTool computes procedural deadlines in business days.
func CalculateDeadlineTool(cal NationalHolidays) Tool {
	return New("calculate_deadline",
		"Calcula o termo final de um prazo processual em dias úteis, excluindo o dia do começo, fins de semana, feriados e o recesso forense.",
		func(_ context.Context, a deadlineArgs) (any, error) {
			start, err := time.Parse(DateLayout, a.StartDate)
			if err != nil {
				return ErrorResult("start_date must use YYYY-MM-DD"), nil
			}
			extra := make(map[string]bool, len(cal.Extra)+len(a.Holidays))
			for k, v := range cal.Extra {
				extra[k] = v
			}
			for _, h := range a.Holidays {
				extra[h] = true
			}
			res, err := CalculateDeadline(start, a.Days, NationalHolidays{Extra: extra})
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			return res, nil
		})
}

// ClientOverviewTool returns a client with all of their cases.
func ClientOverviewTool(repo store.EntityRepository) Tool {
	return New("get_client_overview", "Resumo de um cliente do usuário com todos os seus processos.",
		func(ctx context.Context, a clientOverviewArgs) (any, error) {
			client, err := repo.GetClient(ctx, a.UserID, a.ClientID)
			if errors.Is(err, models.ErrNotFound) {
				return NotFound("Client"), nil
			}
			if err != nil {
				return nil, err
			}
			cases, err := repo.SearchCases(ctx, a.UserID, models.EntityFilter{ClientID: client.ID, Limit: store.MaxEntityLimit})
			if err != nil {
				return nil, err
			}
			active := 0
			for _, c := range cases {
				if c.Status == "active" {
					active++
				}
			}
			return map[string]any{
				"client":       client,
				"cases":        nonNil(cases),
				"total_cases":  len(cases),
				"active_cases": active,
			}, nil
		})
}
