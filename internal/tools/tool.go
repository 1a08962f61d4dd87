// Package tools defines the named tools agents may call, the registry that
// advertises them to the model, and the execution boundary that injects the
// caller's identity into every call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/themis-legal/themis/internal/llm"
)

// IdentityField is the parameter overwritten with the authenticated user id
// before any tool runs.
const IdentityField = "user_id"

// Handler executes a tool with parameters that already carry the caller's
// identity. Returned errors are reported to the model as {"error": msg}.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is a named capability with a JSON-schema parameter contract.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Declaration returns what the model sees for this tool.
func (t Tool) Declaration() llm.ToolDeclaration {
	return llm.ToolDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// New builds a tool whose parameters are decoded into T. The schema is
// reflected from T's json and jsonschema tags; fields tagged jsonschema:"-"
// (the identity field) stay hidden from the model but are still decoded.
func New[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaFor[T](),
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			var args T
			raw, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("invalid parameters: %w", err)
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid parameters: %w", err)
			}
			return fn(ctx, args)
		},
	}
}

func schemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("tools: unmarshal schema: %v", err))
	}

	out := map[string]any{
		"type":       "object",
		"properties": m["properties"],
	}
	if out["properties"] == nil {
		out["properties"] = map[string]any{}
	}
	if req, ok := m["required"]; ok {
		out["required"] = req
	}
	return out
}

// ErrorResult is the structured failure value tools return instead of erroring.
func ErrorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// NotFound is the result for a missing or not-owned record.
func NotFound(entity string) map[string]any {
	return ErrorResult(entity + " not found")
}
