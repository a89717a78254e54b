package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultClaudeModel is used when no model is configured.
const DefaultClaudeModel = "claude-3-5-haiku-latest"

// ClaudeExtractor drives extraction through Anthropic's Messages API. Claude
// has no JSON-object response mode, so the system prompt carries the full
// output contract and the decoder tolerates fenced replies.
type ClaudeExtractor struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

var (
	_ Extractor = (*ClaudeExtractor)(nil)
	_ Expander  = (*ClaudeExtractor)(nil)
)

// NewClaudeExtractor constructs an extractor over an API key.
func NewClaudeExtractor(apiKey, model string) *ClaudeExtractor {
	if model == "" {
		model = DefaultClaudeModel
	}
	cl := anthropic.NewClient(anthropicopt.WithAPIKey(apiKey))
	return &ClaudeExtractor{
		client:    &cl,
		model:     model,
		maxTokens: 2048,
	}
}

func (e *ClaudeExtractor) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

// Extract runs the extraction prompt against a turn.
func (e *ClaudeExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	raw, err := e.complete(ctx, extractionSystemPrompt, extractionUserPrompt(turn))
	if err != nil {
		return model.GraphDelta{}, err
	}
	return decodeExtraction(raw)
}

// Expand rewrites a query into related lookup terms.
func (e *ClaudeExtractor) Expand(ctx context.Context, query string, max int) ([]string, error) {
	raw, err := e.complete(ctx, expansionSystemPrompt, expansionUserPrompt(query, max))
	if err != nil {
		return nil, err
	}
	return decodeExpansion(raw, max)
}
