package models

import "time"

// Read models for the legal CRUD entities. The entity layer itself lives
// outside this core; tools only read these through store.EntityRepository.

type Client struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Document  string    `json:"document,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Case struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ClientID  string    `json:"client_id"`
	Number    string    `json:"number"`
	Title     string    `json:"title"`
	Court     string    `json:"court,omitempty"`
	Area      string    `json:"area,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID         string     `json:"id"`
	AssignedTo string     `json:"assigned_to"`
	CaseID     string     `json:"case_id,omitempty"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

type Movement struct {
	ID          string    `json:"id"`
	CaseID      string    `json:"case_id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
}

type Document struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CaseID    string    `json:"case_id,omitempty"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EntityFilter narrows entity searches. Owner scoping is always applied by
// the repository from the caller's identity, never from this struct.
type EntityFilter struct {
	Search   string
	Status   string
	CaseID   string
	ClientID string
	Limit    int
}
