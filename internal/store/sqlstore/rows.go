package sqlstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/themis-legal/themis/pkg/models"
)

// Table rows. They mirror pkg/models but carry the gorm mapping so the
// domain types stay free of persistence tags.

type agentRow struct {
	ID          string  `gorm:"primaryKey;size:36"`
	Slug        string  `gorm:"uniqueIndex;size:64;not null"`
	Name        string  `gorm:"size:200;not null"`
	Description string  `gorm:"type:text"`
	Model       string  `gorm:"size:100;not null"`
	Temperature float64 `gorm:"not null"`
	MaxTokens   int     `gorm:"not null"`
	Active      bool    `gorm:"not null"`
	CreatedAt   time.Time
}

func (agentRow) TableName() string { return "agents" }

func (r agentRow) model() models.Agent {
	return models.Agent{
		ID:          r.ID,
		Slug:        r.Slug,
		Name:        r.Name,
		Description: r.Description,
		Model:       r.Model,
		Config:      models.AgentConfig{Temperature: r.Temperature, MaxTokens: r.MaxTokens},
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
	}
}

type conversationRow struct {
	ID          string  `gorm:"primaryKey;size:36"`
	UserID      string  `gorm:"index;size:64;not null"`
	AgentID     *string `gorm:"size:36"`
	FolderID    *string `gorm:"size:64"`
	Mode        string  `gorm:"size:16;not null"`
	TotalTokens int64   `gorm:"not null;default:0"`
	Title       string  `gorm:"size:200"`
	CreatedAt   time.Time
	UpdatedAt   time.Time `gorm:"index"`

	Messages   []messageRow   `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	Executions []executionRow `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (conversationRow) TableName() string { return "conversations" }

func (r conversationRow) model() models.Conversation {
	return models.Conversation{
		ID:          r.ID,
		UserID:      r.UserID,
		AgentID:     r.AgentID,
		FolderID:    r.FolderID,
		Mode:        models.ConversationMode(r.Mode),
		TotalTokens: r.TotalTokens,
		Title:       r.Title,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type messageRow struct {
	ID             string  `gorm:"primaryKey;size:36"`
	ConversationID string  `gorm:"index;size:36;not null"`
	Role           string  `gorm:"size:16;not null"`
	Content        string  `gorm:"type:text"`
	AgentID        *string `gorm:"size:36"`
	Citations      datatypes.JSONType[[]models.Citation]
	CreatedAt      time.Time `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) model() models.Message {
	return models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           models.MessageRole(r.Role),
		Content:        r.Content,
		AgentID:        r.AgentID,
		Citations:      r.Citations.Data(),
		CreatedAt:      r.CreatedAt,
	}
}

type executionRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"index;size:36;not null"`
	AgentID        string `gorm:"size:36;not null"`
	Status         string `gorm:"size:16;not null;index"`
	Input          string `gorm:"type:text"`
	Output         string `gorm:"type:text"`
	ToolCalls      datatypes.JSONType[[]models.ToolCallRecord]
	TokensUsed     int64
	DurationMs     int64
	ErrorMessage   string `gorm:"type:text"`
	StartedAt      time.Time
	CompletedAt    *time.Time
}

func (executionRow) TableName() string { return "agent_executions" }

func (r executionRow) model() models.AgentExecution {
	return models.AgentExecution{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		AgentID:        r.AgentID,
		Status:         models.ExecutionStatus(r.Status),
		Input:          r.Input,
		Output:         r.Output,
		ToolCalls:      r.ToolCalls.Data(),
		TokensUsed:     r.TokensUsed,
		DurationMs:     r.DurationMs,
		ErrorMessage:   r.ErrorMessage,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
	}
}

func executionFrom(e *models.AgentExecution) executionRow {
	return executionRow{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		AgentID:        e.AgentID,
		Status:         string(e.Status),
		Input:          e.Input,
		Output:         e.Output,
		ToolCalls:      datatypes.NewJSONType(e.ToolCalls),
		TokensUsed:     e.TokensUsed,
		DurationMs:     e.DurationMs,
		ErrorMessage:   e.ErrorMessage,
		StartedAt:      e.StartedAt,
		CompletedAt:    e.CompletedAt,
	}
}

// ── Legal entities (read-only here) ─────────────────────────

type clientRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"index;size:64;not null"`
	Name      string `gorm:"size:200;not null"`
	Email     string `gorm:"size:200"`
	Phone     string `gorm:"size:50"`
	Document  string `gorm:"size:50"`
	CreatedAt time.Time
}

func (clientRow) TableName() string { return "clients" }

func (r clientRow) model() models.Client {
	return models.Client{ID: r.ID, OwnerID: r.OwnerID, Name: r.Name, Email: r.Email, Phone: r.Phone, Document: r.Document, CreatedAt: r.CreatedAt}
}

type caseRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"index;size:64;not null"`
	ClientID  string `gorm:"index;size:36"`
	Number    string `gorm:"size:32"`
	Title     string `gorm:"size:300"`
	Court     string `gorm:"size:200"`
	Area      string `gorm:"size:100"`
	Status    string `gorm:"size:32"`
	CreatedAt time.Time
}

func (caseRow) TableName() string { return "cases" }

func (r caseRow) model() models.Case {
	return models.Case{ID: r.ID, OwnerID: r.OwnerID, ClientID: r.ClientID, Number: r.Number, Title: r.Title, Court: r.Court, Area: r.Area, Status: r.Status, CreatedAt: r.CreatedAt}
}

type taskRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	AssignedTo string `gorm:"index;size:64;not null"`
	CaseID     string `gorm:"index;size:36"`
	Title      string `gorm:"size:300"`
	Status     string `gorm:"size:32"`
	Priority   string `gorm:"size:32"`
	DueDate    *time.Time
}

func (taskRow) TableName() string { return "tasks" }

func (r taskRow) model() models.Task {
	return models.Task{ID: r.ID, AssignedTo: r.AssignedTo, CaseID: r.CaseID, Title: r.Title, Status: r.Status, Priority: r.Priority, DueDate: r.DueDate}
}

type movementRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CaseID      string    `gorm:"index;size:36;not null"`
	Date        time.Time `gorm:"index"`
	Description string    `gorm:"type:text"`
}

func (movementRow) TableName() string { return "case_movements" }

func (r movementRow) model() models.Movement {
	return models.Movement{ID: r.ID, CaseID: r.CaseID, Date: r.Date, Description: r.Description}
}

type documentRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"index;size:64;not null"`
	CaseID    string `gorm:"index;size:36"`
	Title     string `gorm:"size:300"`
	Kind      string `gorm:"size:64"`
	Content   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (documentRow) TableName() string { return "documents" }

func (r documentRow) model() models.Document {
	return models.Document{ID: r.ID, OwnerID: r.OwnerID, CaseID: r.CaseID, Title: r.Title, Kind: r.Kind, Content: r.Content, CreatedAt: r.CreatedAt}
}

func mapRows[M any, R interface{ model() M }](rows []R) []M {
	out := make([]M, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out
}
