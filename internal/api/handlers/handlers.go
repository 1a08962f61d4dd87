// Package handlers implements the HTTP conversation surface over the
// orchestrator and the knowledge base.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/themis-legal/themis/internal/api/middleware"
	"github.com/themis-legal/themis/internal/embeddings"
	"github.com/themis-legal/themis/internal/orchestrator"
	"github.com/themis-legal/themis/internal/rag"
	"github.com/themis-legal/themis/pkg/models"
)

// Orchestrator is the conversation core the handlers drive.
type Orchestrator interface {
	Execute(ctx context.Context, id models.Identity, p orchestrator.ChatPayload) (*orchestrator.ChatResponse, error)
	ExecuteStream(ctx context.Context, id models.Identity, p orchestrator.ChatPayload, emit func(orchestrator.StreamEvent) error) error
	ExecuteWorkflow(ctx context.Context, id models.Identity, name string, p orchestrator.WorkflowPayload) (*orchestrator.WorkflowResult, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	ListConversations(ctx context.Context, userID string, page, perPage int) (*models.Page[models.Conversation], error)
	GetConversation(ctx context.Context, userID, id string) (*orchestrator.ConversationDetail, error)
	DeleteConversation(ctx context.Context, userID, id string) error
}

// Ingester chunks, embeds and stores documents.
type Ingester interface {
	Ingest(ctx context.Context, p embeddings.IngestPayload) (*embeddings.IngestResult, error)
}

// Searcher runs knowledge-base retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, opts rag.SearchOptions) []rag.SearchResult
}

// Handlers holds dependencies for all API handlers.
type Handlers struct {
	Orchestrator Orchestrator
	Ingester     Ingester
	Search       Searcher
}

// New creates a new Handlers instance.
func New(o Orchestrator, ing Ingester, s Searcher) *Handlers {
	return &Handlers{Orchestrator: o, Ingester: ing, Search: s}
}

// identity is only called behind middleware.Identity, which rejects
// anonymous requests.
func identity(r *http.Request) models.Identity {
	if id := middleware.GetIdentity(r.Context()); id != nil {
		return *id
	}
	return models.Identity{}
}

// ── Agent Handlers ───────────────────────────────────────────

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Orchestrator.ListAgents(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// ── Chat Handlers ────────────────────────────────────────────

// Chat handles POST /api/v1/chat
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var p orchestrator.ChatPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Orchestrator.Execute(r.Context(), identity(r), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ChatStream handles POST /api/v1/chat/stream as server-sent events: the
// reply in one data frame, then an "event: done" frame with usage. Failures
// after the stream opened become an "event: error" frame.
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	var p orchestrator.ChatPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.Orchestrator.ExecuteStream(r.Context(), identity(r), p, func(ev orchestrator.StreamEvent) error {
		if err := writeEvent(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		status, msg := classify(err)
		logFailure(r, status, err)
		_ = writeEvent(w, orchestrator.StreamEvent{
			Type: orchestrator.EventError,
			Data: map[string]any{"error": msg, "status": status},
		})
		flusher.Flush()
	}
}

// writeEvent frames content as a bare data line and every other type as a
// named event.
func writeEvent(w http.ResponseWriter, ev orchestrator.StreamEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.Type == orchestrator.EventContent {
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// ── Workflow Handlers ────────────────────────────────────────

// RunWorkflow handles POST /api/v1/workflows/{name}
func (h *Handlers) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var p orchestrator.WorkflowPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Orchestrator.ExecuteWorkflow(r.Context(), identity(r), name, p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ── Conversation Handlers ────────────────────────────────────

// ListConversations handles GET /api/v1/conversations?page=&per_page=
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page")
	perPage := queryInt(r, "per_page")

	res, err := h.Orchestrator.ListConversations(r.Context(), identity(r).UserID, page, perPage)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orchestrator.GetConversation(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.DeleteConversation(r.Context(), identity(r).UserID, chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Knowledge Handlers ───────────────────────────────────────

// SearchRequest is the body of POST /api/v1/knowledge/search.
type SearchRequest struct {
	Query string `json:"query"`
	rag.SearchOptions
}

// KnowledgeIngest handles POST /api/v1/knowledge/ingest
func (h *Handlers) KnowledgeIngest(w http.ResponseWriter, r *http.Request) {
	if h.Ingester == nil {
		respondError(w, http.StatusServiceUnavailable, "Knowledge ingestion not configured")
		return
	}

	var p embeddings.IngestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.Ingester.Ingest(r.Context(), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// KnowledgeSearch handles POST /api/v1/knowledge/search
func (h *Handlers) KnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if h.Search == nil {
		respondError(w, http.StatusServiceUnavailable, "Knowledge search not configured")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	results := h.Search.Search(r.Context(), req.Query, req.SearchOptions)
	if results == nil {
		results = []rag.SearchResult{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"citations": rag.Citations(results),
	})
}

// ── Helpers ──────────────────────────────────────────────────

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

// classify maps domain errors onto HTTP statuses. Internal causes are not
// echoed to clients.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	default:
		var execErr *models.ExecutionError
		if errors.As(err, &execErr) {
			return http.StatusInternalServerError, "agent execution failed"
		}
		return http.StatusInternalServerError, "internal error"
	}
}

func logFailure(r *http.Request, status int, err error) {
	l := middleware.RequestLogger(r.Context())
	event := l.Warn()
	if status >= 500 {
		event = l.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	logFailure(r, status, err)
	respondError(w, status, msg)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
