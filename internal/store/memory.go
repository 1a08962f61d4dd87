// In-memory Store implementation.
// Used when no database is configured (local dev, tests). Optionally
// persists to a JSON snapshot file so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Agents        map[string]*models.Agent          `json:"agents"` // key: slug
	Conversations map[string]*models.Conversation   `json:"conversations"`
	Messages      map[string][]*models.Message      `json:"messages"` // key: conversation id
	Executions    map[string]*models.AgentExecution `json:"executions"`
	Clients       map[string]*models.Client         `json:"clients"`
	Cases         map[string]*models.Case           `json:"cases"`
	Tasks         map[string]*models.Task           `json:"tasks"`
	Movements     map[string]*models.Movement       `json:"movements"`
	Documents     map[string]*models.Document       `json:"documents"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	agents        map[string]*models.Agent
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	executions    map[string]*models.AgentExecution
	clients       map[string]*models.Client
	cases         map[string]*models.Case
	tasks         map[string]*models.Task
	movements     map[string]*models.Movement
	documents     map[string]*models.Document

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// MemoryOption configures the memory store.
type MemoryOption func(*MemoryStore)

// WithSnapshot persists the store to path (JSON), loading it on start.
func WithSnapshot(path string) MemoryOption {
	return func(m *MemoryStore) { m.snapshotPath = path }
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		agents:        make(map[string]*models.Agent),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		executions:    make(map[string]*models.AgentExecution),
		clients:       make(map[string]*models.Client),
		cases:         make(map[string]*models.Case),
		tasks:         make(map[string]*models.Task),
		movements:     make(map[string]*models.Movement),
		documents:     make(map[string]*models.Document),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.snapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(m.snapshotPath), 0o755); err != nil {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}
	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{
		Agents:        m.agents,
		Conversations: m.conversations,
		Messages:      m.messages,
		Executions:    m.executions,
		Clients:       m.clients,
		Cases:         m.cases,
		Tasks:         m.tasks,
		Movements:     m.movements,
		Documents:     m.documents,
	}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	load(&m.agents, snap.Agents)
	load(&m.conversations, snap.Conversations)
	load(&m.messages, snap.Messages)
	load(&m.executions, snap.Executions)
	load(&m.clients, snap.Clients)
	load(&m.cases, snap.Cases)
	load(&m.tasks, snap.Tasks)
	load(&m.movements, snap.Movements)
	load(&m.documents, snap.Documents)

	log.Info().
		Int("agents", len(m.agents)).
		Int("conversations", len(m.conversations)).
		Int("executions", len(m.executions)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func load[V any](dst *map[string]V, src map[string]V) {
	if src != nil {
		*dst = src
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}
	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}

// ── Agent Store ─────────────────────────────────────────────

func (m *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slug < result[j].Slug })
	return result, nil
}

func (m *MemoryStore) GetAgentBySlug(_ context.Context, slug string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[slug]
	if !ok {
		return nil, models.NewNotFound("agent", slug)
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpsertAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	if existing, ok := m.agents[agent.Slug]; ok {
		agent.ID = existing.ID
		agent.CreatedAt = existing.CreatedAt
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	cp := *agent
	m.agents[agent.Slug] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Conversation Store ──────────────────────────────────────

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	m.mu.Lock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, models.NewNotFound("conversation", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	existing, ok := m.conversations[conv.ID]
	if !ok {
		m.mu.Unlock()
		return models.NewNotFound("conversation", conv.ID)
	}
	conv.UpdatedAt = time.Now().UTC()
	// total_tokens only moves through AddConversationTokens.
	conv.TotalTokens = existing.TotalTokens
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) AddConversationTokens(_ context.Context, id string, n int64) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return models.NewNotFound("conversation", id)
	}
	c.AddTokens(n)
	c.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListConversations(_ context.Context, userID string, filter ListFilter) ([]models.Conversation, int64, error) {
	m.mu.RLock()
	var all []models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			all = append(all, *c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	total := int64(len(all))

	start := min(max(filter.Offset, 0), len(all))
	end := len(all)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(all))
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.conversations[id]; !ok {
		m.mu.Unlock()
		return models.NewNotFound("conversation", id)
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	for eid, e := range m.executions {
		if e.ConversationID == id {
			delete(m.executions, eid)
		}
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return models.NewNotFound("conversation", msg.ConversationID)
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = *msg
	}
	return out, nil
}

// ── Execution Store ─────────────────────────────────────────

func (m *MemoryStore) CreateExecution(_ context.Context, exec *models.AgentExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	m.mu.Lock()
	cp := *exec
	cp.ToolCalls = slices.Clone(exec.ToolCalls)
	m.executions[exec.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, exec *models.AgentExecution) error {
	m.mu.Lock()
	existing, ok := m.executions[exec.ID]
	if !ok {
		m.mu.Unlock()
		return models.NewNotFound("execution", exec.ID)
	}
	if existing.Status.Terminal() {
		m.mu.Unlock()
		return ErrExecutionClosed
	}
	cp := *exec
	cp.ToolCalls = slices.Clone(exec.ToolCalls)
	m.executions[exec.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*models.AgentExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, models.NewNotFound("execution", id)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, conversationID string) ([]models.AgentExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AgentExecution
	for _, e := range m.executions {
		if e.ConversationID == conversationID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ── Entity Repository ───────────────────────────────────────

// PutClient, PutCase, PutTask, PutMovement and PutDocument load read models
// for development and tests; the entity layer owns these records in production.

func (m *MemoryStore) PutClient(c models.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = &c
}

func (m *MemoryStore) PutCase(c models.Case) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = &c
}

func (m *MemoryStore) PutTask(t models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = &t
}

func (m *MemoryStore) PutMovement(mv models.Movement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[mv.ID] = &mv
}

func (m *MemoryStore) PutDocument(d models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = &d
}

func matches(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	s := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), s) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) SearchClients(_ context.Context, ownerID string, f models.EntityFilter) ([]models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Client
	for _, c := range m.clients {
		if c.OwnerID == ownerID && matches(f.Search, c.Name, c.Email, c.Document) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return truncate(out, EntityLimit(f.Limit)), nil
}

func (m *MemoryStore) GetClient(_ context.Context, ownerID, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok || c.OwnerID != ownerID {
		return nil, models.NewNotFound("client", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) SearchCases(_ context.Context, ownerID string, f models.EntityFilter) ([]models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Case
	for _, c := range m.cases {
		if c.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.ClientID != "" && c.ClientID != f.ClientID {
			continue
		}
		if matches(f.Search, c.Number, c.Title, c.Court) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, EntityLimit(f.Limit)), nil
}

func (m *MemoryStore) GetCase(_ context.Context, ownerID, id string) (*models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok || c.OwnerID != ownerID {
		return nil, models.NewNotFound("case", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, assigneeID string, f models.EntityFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.AssignedTo != assigneeID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.CaseID != "" && t.CaseID != f.CaseID {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return dueBefore(out[i].DueDate, out[j].DueDate) })
	return truncate(out, EntityLimit(f.Limit)), nil
}

// dueBefore orders tasks by due date with undated tasks last.
func dueBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func (m *MemoryStore) ListMovements(_ context.Context, ownerID, caseID string, limit int) ([]models.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok || c.OwnerID != ownerID {
		return nil, models.NewNotFound("case", caseID)
	}
	var out []models.Movement
	for _, mv := range m.movements {
		if mv.CaseID == caseID {
			out = append(out, *mv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return truncate(out, EntityLimit(limit)), nil
}

func (m *MemoryStore) SearchDocuments(_ context.Context, ownerID string, f models.EntityFilter) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.documents {
		if d.OwnerID != ownerID {
			continue
		}
		if f.CaseID != "" && d.CaseID != f.CaseID {
			continue
		}
		if matches(f.Search, d.Title, d.Kind) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, EntityLimit(f.Limit)), nil
}

func (m *MemoryStore) GetDocument(_ context.Context, ownerID, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok || d.OwnerID != ownerID {
		return nil, models.NewNotFound("document", id)
	}
	cp := *d
	return &cp, nil
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
