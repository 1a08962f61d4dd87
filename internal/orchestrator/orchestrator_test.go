package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/agents"
	"github.com/themis-legal/themis/internal/engine"
	"github.com/themis-legal/themis/internal/orchestrator"
	"github.com/themis-legal/themis/internal/store"
	"github.com/themis-legal/themis/pkg/models"
)

// recorder is a Runner that logs which agents ran, in order.
type recorder struct {
	log  *[]string
	slug string
	fail error
	reqs *[]engine.Request
}

func (r recorder) Execute(_ context.Context, req engine.Request) (*engine.Result, error) {
	*r.log = append(*r.log, r.slug)
	*r.reqs = append(*r.reqs, req)
	if r.fail != nil {
		return nil, r.fail
	}
	return &engine.Result{
		ExecutionID: "exec-" + r.slug,
		Agent:       r.slug,
		AgentID:     "id-" + r.slug,
		Output:      "saída de " + r.slug,
		TokensUsed:  10,
		ToolCalls:   []models.ToolCallRecord{},
		Citations:   []models.Citation{{SourceType: models.SourceLegislation, Title: "CPC", Confidence: 0.9}},
	}, nil
}

type harness struct {
	orch  *orchestrator.Orchestrator
	store *store.MemoryStore
	ran   []string
	reqs  []engine.Request
}

var alice = models.Identity{UserID: "alice"}

func newHarness(t *testing.T, failing map[string]error) *harness {
	t.Helper()
	h := &harness{store: store.NewMemoryStore()}
	t.Cleanup(func() { h.store.Close() })
	require.NoError(t, agents.SeedStore(context.Background(), h.store, "gpt-4o-mini"))

	runners := map[string]orchestrator.Runner{}
	for _, slug := range agents.Slugs() {
		runners[slug] = recorder{log: &h.ran, reqs: &h.reqs, slug: slug, fail: failing[slug]}
	}
	o, err := orchestrator.New(h.store, runners)
	require.NoError(t, err)
	h.orch = o
	return h
}

// ─── Routing ─────────────────────────────────────────────────

func TestRoute(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Preciso calcular o prazo para recurso", agents.DeadlineManager},
		{"Analise este CONTRATO de locação", agents.DocumentAnalyzer},
		{"Qual a melhor estratégia?", agents.CaseStrategy},
		{"Escreva um e-mail para o cliente", agents.ClientCommunicator},
		{"Redigir petição inicial", agents.PetitionDrafter},
		{"Existe súmula sobre isso?", agents.LegalResearch},
		{"Bom dia", agents.Default},
		// Earlier rules win even when later keywords also match.
		{"Prazo do contrato", agents.DocumentAnalyzer},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, orchestrator.Route(orchestrator.DefaultRules, tt.input))
		})
	}
}

func TestNew_RequiresEveryRoutedAgent(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	_, err := orchestrator.New(s, map[string]orchestrator.Runner{})
	assert.Error(t, err)
}

// ─── Single execution ────────────────────────────────────────

func TestExecute_CreatesConversationAndAccumulatesTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "Preciso calcular o prazo para recurso"})
	require.NoError(t, err)
	assert.Equal(t, agents.DeadlineManager, first.Agent)
	assert.Equal(t, "saída de deadline-manager", first.Message)
	assert.NotEmpty(t, first.MessageID)

	conv, err := h.store.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "alice", conv.UserID)
	assert.Equal(t, models.ModeSingle, conv.Mode)
	require.NotNil(t, conv.AgentID)
	assert.EqualValues(t, 10, conv.TotalTokens)

	_, err = h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "e a jurisprudência?", ConversationID: first.ConversationID})
	require.NoError(t, err)

	conv, _ = h.store.GetConversation(ctx, first.ConversationID)
	assert.EqualValues(t, 20, conv.TotalTokens)

	// The second turn sees the first exchange as history.
	require.Len(t, h.reqs, 2)
	assert.Empty(t, h.reqs[0].History)
	require.Len(t, h.reqs[1].History, 2)
	assert.Equal(t, "user", h.reqs[1].History[0].Role)
	assert.Equal(t, "assistant", h.reqs[1].History[1].Role)
	assert.Equal(t, "alice", h.reqs[1].Identity.UserID)

	msgs, _ := h.store.ListMessages(ctx, first.ConversationID, 0)
	require.Len(t, msgs, 4)
	require.NotNil(t, msgs[1].AgentID)
	assert.Equal(t, "id-deadline-manager", *msgs[1].AgentID)
	assert.Len(t, msgs[1].Citations, 1)
}

func TestExecute_ForeignConversationUnauthorized(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "oi"})
	require.NoError(t, err)

	_, err = h.orch.Execute(ctx, models.Identity{UserID: "mallory"}, orchestrator.ChatPayload{Message: "oi", ConversationID: res.ConversationID})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, h.ran, 1)
}

func TestExecute_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.Execute(ctx, alice, orchestrator.ChatPayload{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = h.orch.Execute(ctx, models.Identity{}, orchestrator.ChatPayload{Message: "oi"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "oi", Agent: "astrologer"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "oi", ConversationID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Empty(t, h.ran)
}

func TestExecute_ExplicitAgentOverridesRouting(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.Execute(context.Background(), alice, orchestrator.ChatPayload{Message: "prazo", Agent: agents.PetitionDrafter})
	require.NoError(t, err)
	assert.Equal(t, agents.PetitionDrafter, res.Agent)
}

func TestExecute_RunnerFailurePropagates(t *testing.T) {
	boom := &models.ExecutionError{Agent: agents.LegalResearch, ExecutionID: "e1", Err: models.ErrProviderFailure}
	h := newHarness(t, map[string]error{agents.LegalResearch: boom})

	_, err := h.orch.Execute(context.Background(), alice, orchestrator.ChatPayload{Message: "Bom dia"})
	assert.ErrorIs(t, err, models.ErrProviderFailure)
}

// ─── Streaming ───────────────────────────────────────────────

func TestExecuteStream_EmitsContentThenDone(t *testing.T) {
	h := newHarness(t, nil)
	var events []orchestrator.StreamEvent

	err := h.orch.ExecuteStream(context.Background(), alice, orchestrator.ChatPayload{Message: "Bom dia"},
		func(ev orchestrator.StreamEvent) error {
			events = append(events, ev)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, orchestrator.EventContent, events[0].Type)
	assert.Equal(t, orchestrator.ContentData{Content: "saída de legal-research"}, events[0].Data)

	assert.Equal(t, orchestrator.EventDone, events[1].Type)
	done := events[1].Data.(orchestrator.DoneData)
	assert.EqualValues(t, 10, done.TokensUsed)
	assert.Len(t, done.Citations, 1)

	msgs, _ := h.store.ListMessages(context.Background(), done.ConversationID, 0)
	assert.Len(t, msgs, 2)
}

func TestExecuteStream_ErrorEmitsNothing(t *testing.T) {
	h := newHarness(t, map[string]error{agents.LegalResearch: errors.New("down")})
	called := false
	err := h.orch.ExecuteStream(context.Background(), alice, orchestrator.ChatPayload{Message: "Bom dia"},
		func(orchestrator.StreamEvent) error { called = true; return nil })
	assert.Error(t, err)
	assert.False(t, called)
}

// ─── Workflows ───────────────────────────────────────────────

func TestExecuteWorkflow_FullCaseAnalysis(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.orch.ExecuteWorkflow(ctx, alice, "full-case-analysis", orchestrator.WorkflowPayload{Message: "Caso de despejo", CaseID: "k1"})
	require.NoError(t, err)

	assert.Equal(t, []string{agents.DocumentAnalyzer, agents.LegalResearch, agents.CaseStrategy, agents.ClientCommunicator}, h.ran)
	assert.Len(t, res.Steps, 4)
	assert.EqualValues(t, 40, res.TotalTokens)
	assert.Contains(t, res.Summary, "4 etapas")
	assert.Contains(t, res.Summary, "Total: 40 tokens")
	for _, req := range h.reqs {
		assert.True(t, strings.HasSuffix(req.Input, "\n\nCaso de despejo"))
		assert.Equal(t, "k1", req.CaseID)
	}

	conv, err := h.store.GetConversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, models.ModeMulti, conv.Mode)
	assert.Nil(t, conv.AgentID)
	assert.EqualValues(t, 40, conv.TotalTokens)
}

func TestExecuteWorkflow_StepFailureAborts(t *testing.T) {
	boom := fmt.Errorf("%w: timeout", models.ErrProviderFailure)
	h := newHarness(t, map[string]error{agents.LegalResearch: boom})

	_, err := h.orch.ExecuteWorkflow(context.Background(), alice, "full-case-analysis", orchestrator.WorkflowPayload{Message: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderFailure)
	assert.Equal(t, []string{agents.DocumentAnalyzer, agents.LegalResearch}, h.ran)
}

func TestExecuteWorkflow_UnknownFailsBeforeAnyStep(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.ExecuteWorkflow(context.Background(), alice, "tax-evasion", orchestrator.WorkflowPayload{Message: "x"})
	assert.ErrorIs(t, err, models.ErrUnknownWorkflow)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, h.ran)

	page, _ := h.orch.ListConversations(context.Background(), "alice", 1, 10)
	assert.Zero(t, page.Total)
}

// ─── Conversation reads ──────────────────────────────────────

func TestConversations_ScopedToOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.orch.Execute(ctx, alice, orchestrator.ChatPayload{Message: "Bom dia"})
	require.NoError(t, err)

	detail, err := h.orch.GetConversation(ctx, "alice", res.ConversationID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 2)
	assert.Len(t, detail.Messages[1].Citations, 1)

	_, err = h.orch.GetConversation(ctx, "bob", res.ConversationID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, h.orch.DeleteConversation(ctx, "bob", res.ConversationID), models.ErrNotFound)

	page, err := h.orch.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)

	require.NoError(t, h.orch.DeleteConversation(ctx, "alice", res.ConversationID))
	_, err = h.orch.GetConversation(ctx, "alice", res.ConversationID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListAgents(t *testing.T) {
	h := newHarness(t, nil)
	list, err := h.orch.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 6)
}
