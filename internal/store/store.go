// Package store provides the persistence interfaces consumed by the
// orchestration core, with an in-memory implementation for development and
// tests. sqlstore provides the gorm-backed implementation.
package store

import (
	"context"
	"errors"

	"github.com/themis-legal/themis/pkg/models"
)

// Store is the primary storage interface. All orchestration code depends on
// this interface, so in-memory (tests) and SQL (production) backends swap freely.
type Store interface {
	AgentStore
	ConversationStore
	MessageStore
	ExecutionStore
	EntityRepository

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrExecutionClosed is returned when updating an execution that already
// reached a terminal status.
var ErrExecutionClosed = errors.New("execution already finished")

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (*models.Agent, error)
	// UpsertAgent creates or replaces the agent with the same slug.
	UpsertAgent(ctx context.Context, agent *models.Agent) error
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	// AddConversationTokens atomically increments total_tokens; n <= 0 is a no-op.
	AddConversationTokens(ctx context.Context, id string, n int64) error
	// ListConversations returns the user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string, filter ListFilter) ([]models.Conversation, int64, error)
	// DeleteConversation removes the conversation with its messages and executions.
	DeleteConversation(ctx context.Context, id string) error
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns messages oldest first. limit > 0 keeps only the
	// most recent limit messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// ── Execution Store ─────────────────────────────────────────

type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *models.AgentExecution) error
	// UpdateExecution fails with ErrExecutionClosed once the stored row is terminal.
	UpdateExecution(ctx context.Context, exec *models.AgentExecution) error
	GetExecution(ctx context.Context, id string) (*models.AgentExecution, error)
	ListExecutions(ctx context.Context, conversationID string) ([]models.AgentExecution, error)
}

// ── Entity Repository ───────────────────────────────────────

// EntityRepository is the read-only view of the legal CRUD entities. Every
// method scopes by the given owner (or assignee) id; a record that exists but
// belongs to someone else is reported as not found.
type EntityRepository interface {
	SearchClients(ctx context.Context, ownerID string, filter models.EntityFilter) ([]models.Client, error)
	GetClient(ctx context.Context, ownerID, id string) (*models.Client, error)
	SearchCases(ctx context.Context, ownerID string, filter models.EntityFilter) ([]models.Case, error)
	GetCase(ctx context.Context, ownerID, id string) (*models.Case, error)
	ListTasks(ctx context.Context, assigneeID string, filter models.EntityFilter) ([]models.Task, error)
	// ListMovements fails with not found when the case is not owned by ownerID.
	ListMovements(ctx context.Context, ownerID, caseID string, limit int) ([]models.Movement, error)
	SearchDocuments(ctx context.Context, ownerID string, filter models.EntityFilter) ([]models.Document, error)
	GetDocument(ctx context.Context, ownerID, id string) (*models.Document, error)
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides pagination options.
type ListFilter struct {
	Limit  int
	Offset int
}

// DefaultEntityLimit and MaxEntityLimit bound entity searches.
const (
	DefaultEntityLimit = 10
	MaxEntityLimit     = 50
)

// EntityLimit clamps a requested entity limit.
func EntityLimit(n int) int {
	if n <= 0 {
		return DefaultEntityLimit
	}
	if n > MaxEntityLimit {
		return MaxEntityLimit
	}
	return n
}
