// Package models holds the data model shared by the orchestration core:
// agents, conversations, messages, execution records, knowledge-base
// entries and the derived citation type.
package models

import (
	"time"
)

// ── Agent ────────────────────────────────────────────────────

// AgentConfig carries the sampling parameters used for every call an agent makes.
type AgentConfig struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Agent is a configured LLM persona. Rows are created by seeding and are
// read-only at runtime.
type Agent struct {
	ID          string      `json:"id"`
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Model       string      `json:"model"`
	Config      AgentConfig `json:"config"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ── Conversation ─────────────────────────────────────────────

// ConversationMode distinguishes single-agent threads from workflow threads.
type ConversationMode string

const (
	ModeSingle ConversationMode = "single"
	ModeMulti  ConversationMode = "multi"
)

// Conversation is a persisted thread owned by one user. AgentID is nil for
// multi-agent (workflow) conversations.
type Conversation struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	AgentID     *string          `json:"agent_id,omitempty"`
	FolderID    *string          `json:"folder_id,omitempty"`
	Mode        ConversationMode `json:"mode"`
	TotalTokens int64            `json:"total_tokens"`
	Title       string           `json:"title"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// AddTokens accumulates usage. Negative values are ignored so the counter
// never decreases.
func (c *Conversation) AddTokens(n int64) {
	if n > 0 {
		c.TotalTokens += n
	}
}

// ── Message ──────────────────────────────────────────────────

// MessageRole is the author of a persisted message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is an append-only conversation entry.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	AgentID        *string     `json:"agent_id,omitempty"`
	Citations      []Citation  `json:"citations,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ── Agent Execution ──────────────────────────────────────────

// ExecutionStatus is the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ToolCallRecord is one entry of an execution's tool trace.
type ToolCallRecord struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result"`
}

// AgentExecution is the audit row for one agent invocation. It is created
// running and transitions exactly once to completed or failed.
type AgentExecution struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id"`
	Status         ExecutionStatus  `json:"status"`
	Input          string           `json:"input"`
	Output         string           `json:"output,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	TokensUsed     int64            `json:"tokens_used"`
	DurationMs     int64            `json:"duration_ms"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// ── Knowledge Base ───────────────────────────────────────────

// Source types used by the retrieval views.
const (
	SourceLegislation   = "legislation"
	SourceJurisprudence = "jurisprudence"
	SourceDocument      = "document"
)

// KnowledgeBaseEntry is one embedded chunk with its source metadata.
type KnowledgeBaseEntry struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Embedding  []float64      `json:"-"`
	SourceType string         `json:"source_type"`
	SourceURL  string         `json:"source_url,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Language   string         `json:"language,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e *KnowledgeBaseEntry) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Citation is a retrieval source surfaced to the caller. It is derived from
// search results and never persisted on its own.
type Citation struct {
	SourceType string  `json:"source_type"`
	URL        string  `json:"url,omitempty"`
	Title      string  `json:"title,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Confidence float64 `json:"confidence"`
}

// ── Identity ─────────────────────────────────────────────────

// Identity is the authenticated caller. It is produced by the external auth
// layer and is the only source of the user id handed to tools.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ── Pagination ───────────────────────────────────────────────

// Page is a paginated list result.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}

// Normalize clamps page/perPage to sane bounds and returns the row offset.
func Normalize(page, perPage int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage, (page - 1) * perPage
}
