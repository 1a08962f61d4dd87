package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themis-legal/themis/internal/api"
	"github.com/themis-legal/themis/internal/api/handlers"
	"github.com/themis-legal/themis/internal/embeddings"
	"github.com/themis-legal/themis/internal/orchestrator"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/pkg/models"
)

type fakeOrchestrator struct {
	lastID      models.Identity
	lastPayload orchestrator.ChatPayload
	err         error
}

func (f *fakeOrchestrator) Execute(_ context.Context, id models.Identity, p orchestrator.ChatPayload) (*orchestrator.ChatResponse, error) {
	f.lastID, f.lastPayload = id, p
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.ChatResponse{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		ExecutionID:    "exec-1",
		Agent:          "legal-research",
		Message:        "resposta",
		TokensUsed:     12,
		Citations:      []models.Citation{},
	}, nil
}

func (f *fakeOrchestrator) ExecuteStream(ctx context.Context, id models.Identity, p orchestrator.ChatPayload, emit func(orchestrator.StreamEvent) error) error {
	res, err := f.Execute(ctx, id, p)
	if err != nil {
		return err
	}
	if err := emit(orchestrator.StreamEvent{Type: orchestrator.EventContent, Data: orchestrator.ContentData{Content: res.Message}}); err != nil {
		return err
	}
	return emit(orchestrator.StreamEvent{Type: orchestrator.EventDone, Data: orchestrator.DoneData{
		ConversationID: res.ConversationID, Agent: res.Agent, TokensUsed: res.TokensUsed,
	}})
}

func (f *fakeOrchestrator) ExecuteWorkflow(_ context.Context, id models.Identity, name string, _ orchestrator.WorkflowPayload) (*orchestrator.WorkflowResult, error) {
	f.lastID = id
	if name != "full-case-analysis" {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownWorkflow, name)
	}
	return &orchestrator.WorkflowResult{ConversationID: "conv-2", Workflow: name, TotalTokens: 40}, nil
}

func (f *fakeOrchestrator) ListAgents(context.Context) ([]models.Agent, error) {
	return []models.Agent{{Slug: "legal-research", Active: true}}, nil
}

func (f *fakeOrchestrator) ListConversations(_ context.Context, userID string, page, perPage int) (*models.Page[models.Conversation], error) {
	page, perPage, _ = models.Normalize(page, perPage)
	return &models.Page[models.Conversation]{
		Items:   []models.Conversation{{ID: "conv-1", UserID: userID}},
		Total:   1,
		Page:    page,
		PerPage: perPage,
	}, nil
}

func (f *fakeOrchestrator) GetConversation(_ context.Context, userID, id string) (*orchestrator.ConversationDetail, error) {
	if id != "conv-1" {
		return nil, models.NewNotFound("conversation", id)
	}
	return &orchestrator.ConversationDetail{Conversation: models.Conversation{ID: id, UserID: userID}}, nil
}

func (f *fakeOrchestrator) DeleteConversation(_ context.Context, _, id string) error {
	if id != "conv-1" {
		return models.NewNotFound("conversation", id)
	}
	return nil
}

type fakeIngester struct{}

func (fakeIngester) Ingest(_ context.Context, p embeddings.IngestPayload) (*embeddings.IngestResult, error) {
	if p.Content == "" {
		return nil, fmt.Errorf("%w: content is required", models.ErrInvalidInput)
	}
	return &embeddings.IngestResult{EntriesCreated: 1, EntryIDs: []string{"kb-1"}}, nil
}

type fakeSearcher struct{}

func (fakeSearcher) Search(_ context.Context, query string, _ rag.SearchOptions) []rag.SearchResult {
	if query == "vazio" {
		return nil
	}
	return []rag.SearchResult{{ID: "kb-1", Content: "Art. 5º", SourceType: "legislation", Title: "CF", Confidence: 0.9}}
}

func newServer(t *testing.T, o *fakeOrchestrator) *httptest.Server {
	t.Helper()
	h := handlers.New(o, fakeIngester{}, fakeSearcher{})
	srv := httptest.NewServer(api.NewRouter(h, api.Options{Version: "test"}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})
	resp := do(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthDegraded(t *testing.T) {
	h := handlers.New(&fakeOrchestrator{}, nil, nil)
	srv := httptest.NewServer(api.NewRouter(h, api.Options{Health: func(context.Context) error { return errors.New("db down") }}))
	defer srv.Close()

	resp := do(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPIRequiresIdentity(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})
	resp := do(t, srv, http.MethodGet, "/api/v1/agents", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChat_IdentityComesFromHeader(t *testing.T) {
	o := &fakeOrchestrator{}
	srv := newServer(t, o)

	resp := do(t, srv, http.MethodPost, "/api/v1/chat", `{"message":"qual o prazo?","user_id":"attacker"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[orchestrator.ChatResponse](t, resp)
	assert.Equal(t, "conv-1", body.ConversationID)
	assert.Equal(t, int64(12), body.TokensUsed)
	assert.Equal(t, "user-1", o.lastID.UserID)
	assert.Equal(t, "qual o prazo?", o.lastPayload.Message)
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", models.NewNotFound("conversation", "x"), http.StatusNotFound},
		{"unauthorized", fmt.Errorf("%w: foreign conversation", models.ErrUnauthorized), http.StatusForbidden},
		{"invalid", fmt.Errorf("%w: message is required", models.ErrInvalidInput), http.StatusBadRequest},
		{"execution", &models.ExecutionError{Agent: "legal-research", Err: models.ErrProviderFailure}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &fakeOrchestrator{err: tt.err})
			resp := do(t, srv, http.MethodPost, "/api/v1/chat", `{"message":"oi"}`, "user-1")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestChat_BadBody(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})
	resp := do(t, srv, http.MethodPost, "/api/v1/chat", `{`, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatStream_Frames(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})
	resp := do(t, srv, http.MethodPost, "/api/v1/chat/stream", `{"message":"oi"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	raw := string(body)
	frames := strings.Split(strings.TrimSpace(raw), "\n\n")
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"content":"resposta"}`, frames[0])
	assert.True(t, strings.HasPrefix(frames[1], "event: done\ndata: "))
	assert.Contains(t, frames[1], `"conversation_id":"conv-1"`)
}

func TestChatStream_ErrorFrame(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{err: models.ErrProviderFailure})
	resp := do(t, srv, http.MethodPost, "/api/v1/chat/stream", `{"message":"oi"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	raw := string(body)
	assert.True(t, strings.HasPrefix(raw, "event: error\ndata: "))
	assert.Contains(t, raw, `"status":500`)
	assert.NotContains(t, raw, "content")
}

func TestWorkflows(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})

	resp := do(t, srv, http.MethodPost, "/api/v1/workflows/full-case-analysis", `{"message":"analise"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[orchestrator.WorkflowResult](t, resp)
	assert.Equal(t, int64(40), body.TotalTokens)

	// Unknown workflows share the unauthorized classification.
	resp = do(t, srv, http.MethodPost, "/api/v1/workflows/nope", `{"message":"analise"}`, "user-1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConversations(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})

	resp := do(t, srv, http.MethodGet, "/api/v1/conversations?page=2&per_page=500", "", "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[models.Page[models.Conversation]](t, resp)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 100, page.PerPage)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "user-1", page.Items[0].UserID)

	resp = do(t, srv, http.MethodGet, "/api/v1/conversations/conv-1", "", "user-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/v1/conversations/other", "", "user-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/api/v1/conversations/conv-1", "", "user-1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestKnowledge(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})

	resp := do(t, srv, http.MethodPost, "/api/v1/knowledge/ingest", `{"content":"Art. 5º","source_type":"legislation"}`, "user-1")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/v1/knowledge/ingest", `{"source_type":"legislation"}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/v1/knowledge/search", `{"query":"direitos fundamentais","limit":3}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]json.RawMessage](t, resp)
	assert.Contains(t, string(body["results"]), `"kb-1"`)
	assert.Contains(t, string(body["citations"]), `"legislation"`)

	resp = do(t, srv, http.MethodPost, "/api/v1/knowledge/search", `{"query":"vazio"}`, "user-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[map[string]json.RawMessage](t, resp)
	assert.Equal(t, "[]", string(body["results"]))

	resp = do(t, srv, http.MethodPost, "/api/v1/knowledge/search", `{"query":"  "}`, "user-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	srv := newServer(t, &fakeOrchestrator{})
	resp := do(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
