package llm

import (
	"context"
	"strings"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Response is a fully accumulated completion.
type Response struct {
	Text         string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        models.Usage
}

// toolCallAccumulator merges deltas for one provider-minted call ID.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// Accumulate drains a chunk stream into a Response. Tool-call deltas are
// merged by ID: later deltas append to the arguments and may supply the
// name if it was previously empty. Call order follows first appearance.
func Accumulate(ctx context.Context, chunks <-chan *Chunk) (*Response, error) {
	resp := &Response{}
	var text strings.Builder
	calls := make(map[string]*toolCallAccumulator)
	var order []string

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return finish(resp, &text, calls, order), nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.TextDelta != "" {
				text.WriteString(chunk.TextDelta)
			}
			if delta := chunk.ToolCallDelta; delta != nil && delta.ID != "" {
				acc, ok := calls[delta.ID]
				if !ok {
					acc = &toolCallAccumulator{id: delta.ID}
					calls[delta.ID] = acc
					order = append(order, delta.ID)
				}
				if acc.name == "" && delta.Name != "" {
					acc.name = delta.Name
				}
				acc.args.WriteString(delta.ArgumentsDelta)
			}
			if chunk.Usage != nil {
				resp.Usage.Add(*chunk.Usage)
			}
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			if chunk.Done {
				return finish(resp, &text, calls, order), nil
			}
		}
	}
}

func finish(resp *Response, text *strings.Builder, calls map[string]*toolCallAccumulator, order []string) *Response {
	resp.Text = text.String()
	for _, id := range order {
		acc := calls[id]
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return resp
}
