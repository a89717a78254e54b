package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel matches the model the extraction prompts were tuned on.
const DefaultOpenAIModel = "gpt-4o-mini"

// openAIChat is the slice of the OpenAI client the extractor needs.
type openAIChat interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIExtractor drives extraction and query expansion through the OpenAI
// chat API in JSON-object mode.
type OpenAIExtractor struct {
	client      openAIChat
	model       string
	temperature float32
}

var (
	_ Extractor = (*OpenAIExtractor)(nil)
	_ Expander  = (*OpenAIExtractor)(nil)
)

// NewOpenAIExtractor builds an extractor over an API key. Model defaults to
// DefaultOpenAIModel when empty.
func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIExtractor{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: 0.1,
	}
}

func (e *OpenAIExtractor) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

// Extract runs the extraction prompt against a turn.
func (e *OpenAIExtractor) Extract(ctx context.Context, turn model.Turn) (model.GraphDelta, error) {
	raw, err := e.complete(ctx, extractionSystemPrompt, extractionUserPrompt(turn))
	if err != nil {
		return model.GraphDelta{}, err
	}
	return decodeExtraction(raw)
}

// Expand rewrites a query into related lookup terms.
func (e *OpenAIExtractor) Expand(ctx context.Context, query string, max int) ([]string, error) {
	raw, err := e.complete(ctx, expansionSystemPrompt, expansionUserPrompt(query, max))
	if err != nil {
		return nil, err
	}
	return decodeExpansion(raw, max)
}
