package models

import (
	"errors"
	"fmt"
)

// ── Error taxonomy ───────────────────────────────────────────

var (
	// ErrNotFound is returned for unknown agents, conversations and entities.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a conversation belongs to another user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownWorkflow is returned before any step runs when the workflow
	// name is not registered. It is classified as unauthorized.
	ErrUnknownWorkflow = fmt.Errorf("%w: unknown workflow", ErrUnauthorized)

	// ErrProviderFailure wraps every LLM or embedding transport failure.
	ErrProviderFailure = errors.New("provider failure")

	// ErrInvalidInput flags payloads rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError names the missing entity. It matches ErrNotFound with errors.Is.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// ExecutionError is returned when an agent execution ends in the failed state.
type ExecutionError struct {
	Agent       string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s execution %s failed: %v", e.Agent, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
