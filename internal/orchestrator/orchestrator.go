// Package orchestrator is the entry point of the conversation surface. It
// resolves or creates conversations, routes input to an agent through an
// ordered keyword table, runs single executions, the two-frame stream and
// the fixed multi-agent workflows, and accumulates token usage.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/internal/agents"
	"github.com/themis-legal/themis/internal/engine"
	"github.com/themis-legal/themis/internal/guardrails"
	"github.com/themis-legal/themis/internal/llm"
	"github.com/themis-legal/themis/internal/metrics"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/pkg/models"
)

// DefaultHistoryLimit is how many prior messages a resumed conversation
// passes to the agent.
const DefaultHistoryLimit = 20

const maxTitleRunes = 80

// Runner executes one agent. *engine.Agent satisfies it.
type Runner interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	store.AgentStore
	store.ConversationStore
	store.MessageStore
}

// ChatPayload is one user turn.
type ChatPayload struct {
	Message        string  `json:"message" validate:"required,max=20000"`
	ConversationID string  `json:"conversation_id,omitempty" validate:"omitempty,max=64"`
	FolderID       *string `json:"folder_id,omitempty" validate:"omitempty,max=64"`
	CaseID         string  `json:"case_id,omitempty" validate:"omitempty,max=64"`
	// Agent forces a specific agent instead of keyword routing.
	Agent string `json:"agent,omitempty" validate:"omitempty,max=64"`
}

// WorkflowPayload starts a workflow.
type WorkflowPayload struct {
	Message  string  `json:"message" validate:"required,max=20000"`
	FolderID *string `json:"folder_id,omitempty" validate:"omitempty,max=64"`
	CaseID   string  `json:"case_id,omitempty" validate:"omitempty,max=64"`
}

// ChatResponse is the result of a single-agent turn.
type ChatResponse struct {
	ConversationID string                  `json:"conversation_id"`
	MessageID      string                  `json:"message_id"`
	ExecutionID    string                  `json:"execution_id"`
	Agent          string                  `json:"agent"`
	Message        string                  `json:"message"`
	TokensUsed     int64                   `json:"tokens_used"`
	Citations      []models.Citation       `json:"citations"`
	ToolCalls      []models.ToolCallRecord `json:"tool_calls"`
}

// ConversationDetail is a conversation with its messages.
type ConversationDetail struct {
	models.Conversation
	Messages []models.Message `json:"messages"`
}

// Orchestrator coordinates conversations and agents.
type Orchestrator struct {
	store        Store
	runners      map[string]Runner
	rules        []Rule
	historyLimit int
	validate     *validator.Validate
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRules replaces the routing table.
func WithRules(rules []Rule) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithHistoryLimit sets how many prior messages are passed to agents.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// New creates an orchestrator. Every agent reachable from the routing table
// and the workflows must have a runner.
func New(s Store, runners map[string]Runner, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:        s,
		runners:      runners,
		rules:        DefaultRules,
		historyLimit: DefaultHistoryLimit,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(o)
	}

	need := []string{agents.Default}
	for _, r := range o.rules {
		need = append(need, r.Agent)
	}
	for _, w := range Workflows {
		for _, s := range w.Steps {
			need = append(need, s.Agent)
		}
	}
	for _, slug := range need {
		if _, ok := o.runners[slug]; !ok {
			return nil, fmt.Errorf("orchestrator: no runner for agent %q", slug)
		}
	}
	return o, nil
}

// SelectAgent routes input through the rule table.
func (o *Orchestrator) SelectAgent(input string) string {
	return Route(o.rules, input)
}

// ResolveConversation loads conversationID when given, failing with
// ErrUnauthorized if it belongs to another user; otherwise it creates a new
// conversation whose agent is the routed one.
func (o *Orchestrator) ResolveConversation(ctx context.Context, userID, conversationID string, folderID *string, input string, mode models.ConversationMode) (*models.Conversation, error) {
	return o.resolve(ctx, userID, conversationID, folderID, input, mode, o.SelectAgent(input))
}

func (o *Orchestrator) resolve(ctx context.Context, userID, conversationID string, folderID *string, input string, mode models.ConversationMode, slug string) (*models.Conversation, error) {
	if conversationID != "" {
		conv, err := o.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID {
			return nil, fmt.Errorf("%w: conversation %s", models.ErrUnauthorized, conversationID)
		}
		return conv, nil
	}

	conv := &models.Conversation{
		UserID:   userID,
		FolderID: folderID,
		Mode:     mode,
		Title:    title(input),
	}
	if mode == models.ModeSingle {
		agent, err := o.store.GetAgentBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		conv.AgentID = &agent.ID
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	log.Debug().Str("conversation_id", conv.ID).Str("mode", string(mode)).Msg("Conversation created")
	return conv, nil
}

// Execute runs one single-agent turn.
func (o *Orchestrator) Execute(ctx context.Context, id models.Identity, p ChatPayload) (*ChatResponse, error) {
	if err := o.check(id, &p); err != nil {
		return nil, err
	}

	slug := p.Agent
	if slug == "" {
		slug = o.SelectAgent(p.Message)
	}
	conv, err := o.resolve(ctx, id.UserID, p.ConversationID, p.FolderID, p.Message, models.ModeSingle, slug)
	if err != nil {
		return nil, err
	}
	runner := o.runners[slug]

	history, err := o.history(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateMessage(ctx, &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: p.Message}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	res, err := runner.Execute(ctx, engine.Request{
		ConversationID: conv.ID,
		Identity:       id,
		Input:          p.Message,
		History:        history,
		CaseID:         p.CaseID,
	})
	if err != nil {
		return nil, err
	}

	msg, err := o.record(ctx, conv.ID, res)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ExecutionID:    res.ExecutionID,
		Agent:          res.Agent,
		Message:        res.Output,
		TokensUsed:     res.TokensUsed,
		Citations:      res.Citations,
		ToolCalls:      res.ToolCalls,
	}, nil
}

// ExecuteWorkflow runs a named workflow in a new multi-agent conversation.
// Steps run in order; the first failing step aborts the rest and its error
// is returned. Completed steps are not rolled back.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, id models.Identity, name string, p WorkflowPayload) (*WorkflowResult, error) {
	wf, ok := LookupWorkflow(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, name)
	}
	if id.UserID == "" {
		return nil, models.ErrUnauthorized
	}
	if err := o.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	o.screenInjection(id, p.Message)

	conv, err := o.resolve(ctx, id.UserID, "", p.FolderID, p.Message, models.ModeMulti, "")
	if err != nil {
		return nil, err
	}
	if err := o.store.CreateMessage(ctx, &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: p.Message}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	start := time.Now()
	log.Info().Str("workflow", wf.Name).Str("conversation_id", conv.ID).Int("steps", len(wf.Steps)).Msg("Workflow started")

	out := &WorkflowResult{ConversationID: conv.ID, Workflow: wf.Name, Steps: make([]StepResult, 0, len(wf.Steps))}
	for i, step := range wf.Steps {
		res, err := o.runners[step.Agent].Execute(ctx, engine.Request{
			ConversationID: conv.ID,
			Identity:       id,
			Input:          StepInput(step, p.Message),
			CaseID:         p.CaseID,
		})
		if err != nil {
			metrics.WorkflowRuns.WithLabelValues(wf.Name, "failed").Inc()
			log.Error().Err(err).
				Str("workflow", wf.Name).
				Int("step", i+1).
				Str("agent", step.Agent).
				Msg("Workflow aborted")
			return nil, fmt.Errorf("workflow %s step %d (%s): %w", wf.Name, i+1, step.Agent, err)
		}
		if _, err := o.record(ctx, conv.ID, res); err != nil {
			return nil, err
		}
		out.Steps = append(out.Steps, StepResult{Step: i + 1, Result: res})
		out.TotalTokens += res.TokensUsed
	}
	out.Summary = Summarize(wf.Name, out.Steps)

	metrics.WorkflowRuns.WithLabelValues(wf.Name, "completed").Inc()
	log.Info().
		Str("workflow", wf.Name).
		Str("conversation_id", conv.ID).
		Int64("tokens", out.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Workflow complete")
	return out, nil
}

// ListAgents returns the active agents.
func (o *Orchestrator) ListAgents(ctx context.Context) ([]models.Agent, error) {
	all, err := o.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Agent, 0, len(all))
	for _, a := range all {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListConversations returns one page of the user's conversations.
func (o *Orchestrator) ListConversations(ctx context.Context, userID string, page, perPage int) (*models.Page[models.Conversation], error) {
	page, perPage, offset := models.Normalize(page, perPage)
	items, total, err := o.store.ListConversations(ctx, userID, store.ListFilter{Limit: perPage, Offset: offset})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Conversation{}
	}
	return &models.Page[models.Conversation]{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// GetConversation returns the user's conversation with all its messages.
// A conversation owned by someone else is reported as not found.
func (o *Orchestrator) GetConversation(ctx context.Context, userID, id string) (*ConversationDetail, error) {
	conv, err := o.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &ConversationDetail{Conversation: *conv, Messages: msgs}, nil
}

// DeleteConversation removes the user's conversation and everything in it.
func (o *Orchestrator) DeleteConversation(ctx context.Context, userID, id string) error {
	if _, err := o.owned(ctx, userID, id); err != nil {
		return err
	}
	return o.store.DeleteConversation(ctx, id)
}

// ── Helpers ─────────────────────────────────────────────────

func (o *Orchestrator) owned(ctx context.Context, userID, id string) (*models.Conversation, error) {
	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, models.NewNotFound("conversation", id)
	}
	return conv, nil
}

func (o *Orchestrator) check(id models.Identity, p *ChatPayload) error {
	if id.UserID == "" {
		return models.ErrUnauthorized
	}
	if err := o.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if p.Agent != "" {
		if _, ok := o.runners[p.Agent]; !ok {
			return models.NewNotFound("agent", p.Agent)
		}
	}
	o.screenInjection(id, p.Message)
	return nil
}

// screenInjection only logs: identity never comes from model-visible text,
// so a suspicious message cannot escalate privileges.
func (o *Orchestrator) screenInjection(id models.Identity, text string) {
	if hit, pattern := guardrails.DetectPromptInjection(text); hit {
		log.Warn().Str("user_id", id.UserID).Str("pattern", pattern).Msg("Possible prompt injection in user input")
	}
}

func (o *Orchestrator) history(ctx context.Context, conversationID string) ([]llm.Message, error) {
	msgs, err := o.store.ListMessages(ctx, conversationID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

// record adds the execution's tokens to the conversation and stores the
// assistant message.
func (o *Orchestrator) record(ctx context.Context, conversationID string, res *engine.Result) (*models.Message, error) {
	if err := o.store.AddConversationTokens(ctx, conversationID, res.TokensUsed); err != nil {
		return nil, fmt.Errorf("add conversation tokens: %w", err)
	}
	msg := &models.Message{
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        res.Output,
		Citations:      res.Citations,
	}
	if res.AgentID != "" {
		agentID := res.AgentID
		msg.AgentID = &agentID
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	return msg, nil
}

func title(input string) string {
	t := strings.Join(strings.Fields(input), " ")
	if r := []rune(t); len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes-3]) + "..."
	}
	return t
}
