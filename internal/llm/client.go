package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/themis-legal/themis/pkg/models"
)

// DefaultBaseURL is used when no endpoint is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
	RetryWait      time.Duration
}

// Client talks to any OpenAI-compatible endpoint (OpenAI, Azure proxies,
// Ollama's /v1, vLLM).
type Client struct {
	http           *resty.Client
	chatModel      string
	embeddingModel string
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10*cfg.RetryWait).
		AddRetryCondition(retryable).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}

	httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("LLM provider response")
		return nil
	})

	return &Client{
		http:           httpClient,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}
}

func retryable(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

// ── Wire types ──────────────────────────────────────────────

type openAIChatRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Tools         []openAITool         `json:"tools,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAITool struct {
	Type     string          `json:"type"`
	Function ToolDeclaration `json:"function"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ── Chat ────────────────────────────────────────────────────

func (c *Client) buildChatRequest(req ChatRequest) openAIChatRequest {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}
	body := openAIChatRequest{
		Model:     model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	temp := req.Temperature
	body.Temperature = &temp
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{Type: "function", Function: t})
	}
	return body
}

// Chat sends a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out openAIChatResponse
	var apiErr openAIErrorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.buildChatRequest(req)).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: chat request: %v", models.ErrProviderFailure, err)
	}
	if resp.IsError() {
		return nil, statusError("chat", resp.StatusCode(), apiErr, resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat response has no choices", models.ErrProviderFailure)
	}

	choice := out.Choices[0]
	result := &ChatResponse{
		Content:      choice.Message.Content,
		Tokens:       out.Usage.TotalTokens,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return result, nil
}

// ChatStream sends a streaming chat completion and relays content deltas.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onFragment func(string) error) (*ChatResponse, error) {
	body := c.buildChatRequest(req)
	body.Stream = true
	body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: stream request: %v", models.ErrProviderFailure, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() >= 400 {
		data, _ := io.ReadAll(raw)
		var apiErr openAIErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return nil, statusError("stream", resp.StatusCode(), apiErr, string(data))
	}

	result := &ChatResponse{}
	var content strings.Builder
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("%w: decode stream chunk: %v", models.ErrProviderFailure, err)
		}
		if chunk.Usage != nil {
			result.Tokens = chunk.Usage.TotalTokens
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				result.FinishReason = choice.FinishReason
			}
			if choice.Delta.Content == "" {
				continue
			}
			content.WriteString(choice.Delta.Content)
			if onFragment != nil {
				if err := onFragment(choice.Delta.Content); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stream: %v", models.ErrProviderFailure, err)
	}

	result.Content = content.String()
	return result, nil
}

// ── Embeddings ──────────────────────────────────────────────

// Embed generates one embedding per text, reordered by the provider's index.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out openAIEmbedResponse
	var apiErr openAIErrorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(openAIEmbedRequest{Model: c.embeddingModel, Input: texts}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings request: %v", models.ErrProviderFailure, err)
	}
	if resp.IsError() {
		return nil, statusError("embeddings", resp.StatusCode(), apiErr, resp.String())
	}

	vectors := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", models.ErrProviderFailure, i)
		}
	}
	return vectors, nil
}

func statusError(op string, code int, apiErr openAIErrorResponse, body string) error {
	msg := apiErr.Error.Message
	if msg == "" {
		msg = body
	}
	return fmt.Errorf("%w: %s status %d: %s", models.ErrProviderFailure, op, code, msg)
}
