package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentos/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible provider. Any endpoint
// speaking the chat-completions streaming protocol works via BaseURL.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// ContextWindows maps model IDs to their context window size.
	ContextWindows map[string]int
}

// OpenAIProvider streams completions from an OpenAI-compatible API.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIProvider creates the provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// ContextWindow implements Provider.
func (p *OpenAIProvider) ContextWindow(model string) int {
	if model == "" {
		model = p.config.DefaultModel
	}
	if window, ok := p.config.ContextWindows[model]; ok {
		return window
	}
	return 128000
}

// CountTokens implements Provider with the shared estimate.
func (p *OpenAIProvider) CountTokens(messages []models.Message) int {
	return EstimateTokens(messages)
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}

	apiReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	out := make(chan *Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		// Stream deltas key tool calls by index; remember each index's
		// provider-minted ID so emitted deltas always carry it.
		indexIDs := make(map[int]string)
		finish := ""

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, &Chunk{Done: true, FinishReason: finish})
				return
			}
			if err != nil {
				emit(ctx, out, &Chunk{Err: err})
				return
			}

			if resp.Usage != nil {
				emit(ctx, out, &Chunk{Usage: &models.Usage{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				}})
			}

			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					if !emit(ctx, out, &Chunk{TextDelta: choice.Delta.Content}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					idx := 0
					if tc.Index != nil {
						idx = *tc.Index
					}
					if tc.ID != "" {
						indexIDs[idx] = tc.ID
					}
					delta := &ToolCallDelta{
						ID:             indexIDs[idx],
						Name:           tc.Function.Name,
						ArgumentsDelta: tc.Function.Arguments,
					}
					if !emit(ctx, out, &Chunk{ToolCallDelta: delta}) {
						return
					}
				}
				if choice.FinishReason != "" {
					finish = normalizeFinish(string(choice.FinishReason))
				}
			}
		}
	}()
	return out, nil
}

func emit(ctx context.Context, out chan<- *Chunk, chunk *Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func normalizeFinish(reason string) string {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return reason
	}
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == models.RoleTool {
			m.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}
