package orchestrator

import (
	"context"

	"github.com/themis-legal/themis/pkg/models"
)

// Stream event types.
const (
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent is one frame of a streamed reply.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ContentData carries the reply text.
type ContentData struct {
	Content string `json:"content"`
}

// DoneData closes a stream with usage metadata.
type DoneData struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	ExecutionID    string            `json:"execution_id"`
	Agent          string            `json:"agent"`
	TokensUsed     int64             `json:"tokens_used"`
	Citations      []models.Citation `json:"citations"`
}

// ExecuteStream runs a full turn and then emits exactly two events: the
// complete reply as a content event, then a done event with usage. The
// reply is not delivered incrementally. Errors before the first event are
// returned without emitting anything; the transport decides how to frame them.
func (o *Orchestrator) ExecuteStream(ctx context.Context, id models.Identity, p ChatPayload, emit func(StreamEvent) error) error {
	res, err := o.Execute(ctx, id, p)
	if err != nil {
		return err
	}
	if err := emit(StreamEvent{Type: EventContent, Data: ContentData{Content: res.Message}}); err != nil {
		return err
	}
	return emit(StreamEvent{Type: EventDone, Data: DoneData{
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
		ExecutionID:    res.ExecutionID,
		Agent:          res.Agent,
		TokensUsed:     res.TokensUsed,
		Citations:      res.Citations,
	}})
}
