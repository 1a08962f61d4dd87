// Package engine runs one agent invocation end to end:
//
//	lookup agent → open execution (running) → retrieve context → build
//	messages → first chat call with tools → run requested tools in order →
//	second chat call without tools → citations → close execution.
//
// One Agent value exists per specialization; they differ only in their
// Profile. Any failure after the execution row exists closes it as failed
// before the error is returned.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/themis-legal/themis/internal/llm"
	"github.com/themis-legal/themis/internal/metrics"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/internal/tools"
	"github.com/themis-legal/themis/pkg/models"
)

var tracer = otel.Tracer("themis/engine")

// Retriever is the set of retrieval views a context strategy may combine.
// *rag.Service satisfies it.
type Retriever interface {
	tools.Retriever
	Comprehensive(ctx context.Context, query, caseID string) rag.ContextResult
}

// ContextRequest is what a context strategy gets to decide what to fetch.
type ContextRequest struct {
	Query  string
	CaseID string
}

// ContextStrategy fetches the retrieval context for one execution. It never
// fails: retrieval degradation yields an empty result.
type ContextStrategy func(ctx context.Context, r Retriever, req ContextRequest) rag.ContextResult

// NoContext is the strategy for agents that work without retrieval.
func NoContext(context.Context, Retriever, ContextRequest) rag.ContextResult {
	return rag.ContextResult{}
}

// Profile is everything that distinguishes one specialization from another.
type Profile struct {
	Slug         string
	SystemPrompt string
	Context      ContextStrategy
	// Tools are added to the shared entity tools.
	Tools []tools.Tool
}

// Deps are the collaborators shared by every agent.
type Deps struct {
	Agents     store.AgentStore
	Executions store.ExecutionStore
	Entities   store.EntityRepository
	LLM        llm.Provider
	Retriever  Retriever
}

// Request is one agent invocation.
type Request struct {
	ConversationID string
	Identity       models.Identity
	Input          string
	History        []llm.Message
	CaseID         string
}

// Result is the outcome of a completed execution.
type Result struct {
	ExecutionID string                  `json:"execution_id"`
	Agent       string                  `json:"agent"`
	AgentID     string                  `json:"agent_id"`
	Output      string                  `json:"output"`
	TokensUsed  int64                   `json:"tokens_used"`
	ToolCalls   []models.ToolCallRecord `json:"tool_calls"`
	Citations   []models.Citation       `json:"citations"`
	Metadata    map[string]any          `json:"metadata"`
}

// Agent is the engine bound to one profile.
type Agent struct {
	profile  Profile
	deps     Deps
	registry *tools.Registry
}

// New binds the engine to p. The tool registry is built once here so a
// duplicate tool name fails at startup instead of mid-request.
func New(p Profile, d Deps) (*Agent, error) {
	if p.Slug == "" {
		return nil, errors.New("engine: profile slug is required")
	}
	if p.Context == nil {
		p.Context = NoContext
	}
	all := append(tools.EntityTools(d.Entities), p.Tools...)
	reg, err := tools.NewRegistry(all...)
	if err != nil {
		return nil, fmt.Errorf("engine: agent %s: %w", p.Slug, err)
	}
	return &Agent{profile: p, deps: d, registry: reg}, nil
}

// Slug returns the agent slug this engine serves.
func (a *Agent) Slug() string { return a.profile.Slug }

// ToolNames lists the tools advertised to the model.
func (a *Agent) ToolNames() []string { return a.registry.Names() }

// Execute runs the pipeline for req.
func (a *Agent) Execute(ctx context.Context, req Request) (*Result, error) {
	slug := a.profile.Slug
	ctx, span := tracer.Start(ctx, "agent.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.slug", slug),
		attribute.String("conversation.id", req.ConversationID),
	)

	agent, err := a.deps.Agents.GetAgentBySlug(ctx, slug)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !agent.Active {
		return nil, models.NewNotFound("agent", slug)
	}

	start := time.Now()
	exec := &models.AgentExecution{
		ConversationID: req.ConversationID,
		AgentID:        agent.ID,
		Status:         models.ExecutionRunning,
		Input:          req.Input,
		StartedAt:      start.UTC(),
	}
	if err := a.deps.Executions.CreateExecution(ctx, exec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create execution: %w", err)
	}
	span.SetAttributes(attribute.String("execution.id", exec.ID))

	res, err := a.run(ctx, agent, exec, req)
	if err != nil {
		a.fail(ctx, exec, start, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &models.ExecutionError{Agent: slug, ExecutionID: exec.ID, Err: err}
	}

	exec.Status = models.ExecutionCompleted
	exec.Output = res.Output
	exec.ToolCalls = res.ToolCalls
	exec.TokensUsed = res.TokensUsed
	exec.DurationMs = time.Since(start).Milliseconds()
	done := time.Now().UTC()
	exec.CompletedAt = &done
	if err := a.deps.Executions.UpdateExecution(ctx, exec); err != nil {
		a.fail(ctx, exec, start, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &models.ExecutionError{Agent: slug, ExecutionID: exec.ID, Err: err}
	}

	res.ExecutionID = exec.ID
	res.Metadata["duration_ms"] = exec.DurationMs

	metrics.ExecutionsTotal.WithLabelValues(slug, string(models.ExecutionCompleted)).Inc()
	metrics.ExecutionDuration.WithLabelValues(slug).Observe(time.Since(start).Seconds())
	metrics.TokensTotal.WithLabelValues(slug).Add(float64(res.TokensUsed))

	log.Info().
		Str("agent", slug).
		Str("execution_id", exec.ID).
		Str("conversation_id", req.ConversationID).
		Int64("tokens", res.TokensUsed).
		Int("tool_calls", len(res.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Agent execution complete")

	return res, nil
}

// run covers the steps between opening and closing the execution row. The
// tool trace is written to exec as it grows so a failure still records it.
func (a *Agent) run(ctx context.Context, agent *models.Agent, exec *models.AgentExecution, req Request) (*Result, error) {
	retrieved := a.profile.Context(ctx, a.deps.Retriever, ContextRequest{Query: req.Input, CaseID: req.CaseID})

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(a.profile.SystemPrompt, retrieved.Context)})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Input})

	first, err := a.deps.LLM.Chat(ctx, llm.ChatRequest{
		Model:       agent.Model,
		Messages:    messages,
		Temperature: agent.Config.Temperature,
		MaxTokens:   agent.Config.MaxTokens,
		Tools:       a.registry.Declarations(),
	})
	if err != nil {
		return nil, err
	}

	tokens := first.Tokens
	output := first.Content
	finish := first.FinishReason
	trace := []models.ToolCallRecord{}

	if len(first.ToolCalls) > 0 {
		for _, call := range first.ToolCalls {
			trace = append(trace, tools.Invoke(ctx, a.registry, req.Identity, call))
			exec.ToolCalls = trace
		}

		followUp, err := FollowUpMessages(messages, first.Content, trace)
		if err != nil {
			return nil, err
		}
		second, err := a.deps.LLM.Chat(ctx, llm.ChatRequest{
			Model:       agent.Model,
			Messages:    followUp,
			Temperature: agent.Config.Temperature,
			MaxTokens:   agent.Config.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		tokens += second.Tokens
		output = second.Content
		finish = second.FinishReason
	}

	citations := rag.Citations(retrieved.Sources)
	if citations == nil {
		citations = []models.Citation{}
	}

	return &Result{
		Agent:      a.profile.Slug,
		AgentID:    agent.ID,
		Output:     output,
		TokensUsed: tokens,
		ToolCalls:  trace,
		Citations:  citations,
		Metadata: map[string]any{
			"agent":           a.profile.Slug,
			"model":           agent.Model,
			"finish_reason":   finish,
			"context_sources": len(retrieved.Sources),
		},
	}, nil
}

// fail closes exec as failed. The write survives cancellation of ctx so the
// row never stays running.
func (a *Agent) fail(ctx context.Context, exec *models.AgentExecution, start time.Time, cause error) {
	exec.Status = models.ExecutionFailed
	exec.ErrorMessage = cause.Error()
	exec.DurationMs = time.Since(start).Milliseconds()
	done := time.Now().UTC()
	exec.CompletedAt = &done

	if err := a.deps.Executions.UpdateExecution(context.WithoutCancel(ctx), exec); err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to record execution failure")
	}
	metrics.ExecutionsTotal.WithLabelValues(a.profile.Slug, string(models.ExecutionFailed)).Inc()

	log.Error().Err(cause).
		Str("agent", a.profile.Slug).
		Str("execution_id", exec.ID).
		Str("conversation_id", exec.ConversationID).
		Msg("Agent execution failed")
}

// ── Prompt assembly ─────────────────────────────────────────

const groundingDirective = "Baseie sua resposta no contexto acima e cite as fontes pelo número entre colchetes. " +
	"Se o contexto não for suficiente, diga isso explicitamente."

// SystemPrompt appends the retrieved context and the grounding directive to
// base. Without context, base is returned unchanged.
func SystemPrompt(base, retrieved string) string {
	if retrieved == "" {
		return base
	}
	return base + "\n\nCONTEXTO RELEVANTE:\n" + retrieved + "\n\n" + groundingDirective
}

// FollowUpMessages builds the input of the second chat call: the original
// messages, the assistant's first content when non-empty, then one user turn
// per tool result in call order.
func FollowUpMessages(messages []llm.Message, assistant string, trace []models.ToolCallRecord) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(messages)+len(trace)+1)
	out = append(out, messages...)
	if assistant != "" {
		out = append(out, llm.Message{Role: llm.RoleAssistant, Content: assistant})
	}
	for _, rec := range trace {
		raw, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", rec.ToolName, err)
		}
		out = append(out, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Tool %s result: %s", rec.ToolName, raw),
		})
	}
	return out, nil
}
