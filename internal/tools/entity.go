package tools

import (
	"context"
	"errors"

	"github.com/themis-legal/themis/internal/guardrails"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/pkg/models"
)

// ── Baseline entity tools ───────────────────────────────────
//
// Every argument struct carries UserID, hidden from the schema and filled by
// Invoke. Lookups always scope by it.

type searchClientsArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Search string `json:"search,omitempty" jsonschema:"description=Nome ou e-mail ou documento do cliente"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Máximo de resultados,minimum=1,maximum=50"`
}

type idArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	ID     string `json:"id" jsonschema:"required,description=Identificador do registro"`
}

type searchCasesArgs struct {
	UserID   string `json:"user_id" jsonschema:"-"`
	Search   string `json:"search,omitempty" jsonschema:"description=Número ou título ou vara do processo"`
	Status   string `json:"status,omitempty" jsonschema:"description=Situação do processo"`
	ClientID string `json:"client_id,omitempty" jsonschema:"description=Filtra pelos processos de um cliente"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

type listTasksArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Status string `json:"status,omitempty" jsonschema:"enum=pending,enum=in_progress,enum=done,description=Situação da tarefa"`
	CaseID string `json:"case_id,omitempty" jsonschema:"description=Filtra pelas tarefas de um processo"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

type listMovementsArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	CaseID string `json:"case_id" jsonschema:"required,description=Identificador do processo"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

type searchDocumentsArgs struct {
	UserID string `json:"user_id" jsonschema:"-"`
	Search string `json:"search,omitempty" jsonschema:"description=Título ou tipo do documento"`
	CaseID string `json:"case_id,omitempty" jsonschema:"description=Filtra pelos documentos de um processo"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

// EntityTools returns the shared baseline tools every agent exposes.
func EntityTools(repo store.EntityRepository) []Tool {
	return []Tool{
		New("search_clients", "Busca clientes do usuário por nome, e-mail ou documento.",
			func(ctx context.Context, a searchClientsArgs) (any, error) {
				term, rejected := screen(a.Search)
				if rejected != nil {
					return rejected, nil
				}
				clients, err := repo.SearchClients(ctx, a.UserID, models.EntityFilter{Search: term, Limit: a.Limit})
				if err != nil {
					return nil, err
				}
				return map[string]any{"clients": nonNil(clients), "count": len(clients)}, nil
			}),

		New("get_client_details", "Retorna os dados completos de um cliente do usuário.",
			func(ctx context.Context, a idArgs) (any, error) {
				c, err := repo.GetClient(ctx, a.UserID, a.ID)
				return orNotFound(c, err, "Client")
			}),

		New("search_cases", "Busca processos do usuário por número, título, situação ou cliente.",
			func(ctx context.Context, a searchCasesArgs) (any, error) {
				term, rejected := screen(a.Search)
				if rejected != nil {
					return rejected, nil
				}
				cases, err := repo.SearchCases(ctx, a.UserID, models.EntityFilter{
					Search: term, Status: a.Status, ClientID: a.ClientID, Limit: a.Limit,
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"cases": nonNil(cases), "count": len(cases)}, nil
			}),

		New("get_case_details", "Retorna os dados completos de um processo do usuário.",
			func(ctx context.Context, a idArgs) (any, error) {
				c, err := repo.GetCase(ctx, a.UserID, a.ID)
				return orNotFound(c, err, "Case")
			}),

		New("list_tasks", "Lista as tarefas atribuídas ao usuário, ordenadas por prazo.",
			func(ctx context.Context, a listTasksArgs) (any, error) {
				tasks, err := repo.ListTasks(ctx, a.UserID, models.EntityFilter{Status: a.Status, CaseID: a.CaseID, Limit: a.Limit})
				if err != nil {
					return nil, err
				}
				return map[string]any{"tasks": nonNil(tasks), "count": len(tasks)}, nil
			}),

		New("list_case_movements", "Lista as movimentações mais recentes de um processo do usuário.",
			func(ctx context.Context, a listMovementsArgs) (any, error) {
				movements, err := repo.ListMovements(ctx, a.UserID, a.CaseID, a.Limit)
				if errors.Is(err, models.ErrNotFound) {
					return NotFound("Case"), nil
				}
				if err != nil {
					return nil, err
				}
				return map[string]any{"movements": nonNil(movements), "count": len(movements)}, nil
			}),

		New("search_documents", "Busca documentos do usuário por título, tipo ou processo.",
			func(ctx context.Context, a searchDocumentsArgs) (any, error) {
				term, rejected := screen(a.Search)
				if rejected != nil {
					return rejected, nil
				}
				docs, err := repo.SearchDocuments(ctx, a.UserID, models.EntityFilter{Search: term, CaseID: a.CaseID, Limit: a.Limit})
				if err != nil {
					return nil, err
				}
				// Listing omits bodies; get_document_details returns them.
				for i := range docs {
					docs[i].Content = ""
				}
				return map[string]any{"documents": nonNil(docs), "count": len(docs)}, nil
			}),

		New("get_document_details", "Retorna um documento do usuário, incluindo o conteúdo.",
			func(ctx context.Context, a idArgs) (any, error) {
				d, err := repo.GetDocument(ctx, a.UserID, a.ID)
				return orNotFound(d, err, "Document")
			}),
	}
}

func screen(term string) (string, map[string]any) {
	clean, err := guardrails.ScreenSearchTerm(term, guardrails.DefaultMaxSearchTerm)
	if err != nil {
		return "", ErrorResult("Invalid search term")
	}
	return clean, nil
}

func orNotFound[T any](v *T, err error, entity string) (any, error) {
	if errors.Is(err, models.ErrNotFound) {
		return NotFound(entity), nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
