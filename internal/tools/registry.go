package tools

import (
	"fmt"

	"github.com/themis-legal/themis/internal/llm"
)

// Registry is an ordered, name-unique set of tools.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry builds a registry, rejecting duplicate names.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", t.Name)
	}
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.byName[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations returns the model-facing declarations in registration order.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	out := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Declaration())
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }
