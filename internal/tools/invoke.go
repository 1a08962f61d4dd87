package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/themis-legal/themis/internal/llm"
	"github.com/themis-legal/themis/internal/metrics"
	"github.com/themis-legal/themis/pkg/models"
)

var tracer = otel.Tracer("themis/tools")

// Invoke is the single execution boundary for model-requested tool calls.
// The caller's identity overwrites any identity value the model supplied,
// after every other parameter has been parsed. Invoke never fails: unknown
// tools, handler errors and panics all become {"error": ...} results.
func Invoke(ctx context.Context, reg *Registry, identity models.Identity, call llm.ToolCall) models.ToolCallRecord {
	params := parseArguments(call)
	// Argument decoding matches field names case-insensitively, so every
	// folded spelling of the identity key has to go.
	for k := range params {
		if strings.EqualFold(k, IdentityField) {
			delete(params, k)
		}
	}
	params[IdentityField] = identity.UserID

	record := models.ToolCallRecord{ToolName: call.Name, Parameters: params}

	ctx, span := tracer.Start(ctx, "tool."+call.Name)
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name))

	tool, ok := reg.Lookup(call.Name)
	if !ok {
		log.Warn().Str("tool", call.Name).Msg("Model requested unknown tool")
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "not_found").Inc()
		record.Result = ErrorResult("Tool not found")
		return record
	}

	result, err := run(ctx, tool, maps.Clone(params))
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("Tool execution failed")
		span.SetStatus(codes.Error, err.Error())
		metrics.ToolCallsTotal.WithLabelValues(call.Name, "error").Inc()
		record.Result = ErrorResult(err.Error())
		return record
	}

	outcome := "ok"
	if m, isMap := result.(map[string]any); isMap {
		if _, failed := m["error"]; failed {
			outcome = "error"
		}
	}
	metrics.ToolCallsTotal.WithLabelValues(call.Name, outcome).Inc()
	record.Result = result
	return record
}

func parseArguments(call llm.ToolCall) map[string]any {
	params := map[string]any{}
	if len(call.Arguments) == 0 {
		return params
	}
	if err := json.Unmarshal(call.Arguments, &params); err != nil || params == nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("Discarding unparseable tool arguments")
		return map[string]any{}
	}
	return params
}

func run(ctx context.Context, tool Tool, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, params)
}
