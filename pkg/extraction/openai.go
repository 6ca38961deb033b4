package extraction

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the LLM-backed extractor. BaseURL allows pointing
// at any OpenAI-compatible endpoint (LiteLLM, OpenRouter, local gateways).
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIExtractor implements Extractor with a chat-completion call per
// exchange or query.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExtractor creates an extractor for the given endpoint and model.
func NewOpenAIExtractor(cfg OpenAIConfig) *OpenAIExtractor {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Gateways like LiteLLM accept any key.
		apiKey = "dummy-key"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL + "/v1"
	}

	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// ExtractExchange performs a single LLM call to extract entities, triples
// and co-occurrence pairs from the exchange's messages.
func (e *OpenAIExtractor) ExtractExchange(
	ctx context.Context,
	messages []Message,
	knownEntities []string,
) (*ExchangeExtraction, error) {
	if len(messages) == 0 {
		return &ExchangeExtraction{}, nil
	}

	raw, err := e.complete(ctx, ExchangeSystemPrompt, BuildExchangePrompt(messages, knownEntities))
	if err != nil {
		return nil, fmt.Errorf("extraction: LLM call failed: %w", err)
	}

	result, err := ParseExchangeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("extraction: parse failed: %w", err)
	}
	return result, nil
}

// ExtractQueryEntities extracts entity mentions from free query text.
func (e *OpenAIExtractor) ExtractQueryEntities(
	ctx context.Context,
	text string,
	knownEntities []string,
) ([]ExtractedEntity, error) {
	if text == "" {
		return nil, nil
	}

	raw, err := e.complete(ctx, QuerySystemPrompt, BuildQueryPrompt(text, knownEntities))
	if err != nil {
		return nil, fmt.Errorf("extraction: LLM call failed: %w", err)
	}

	entities, err := ParseEntityList(raw)
	if err != nil {
		return nil, fmt.Errorf("extraction: parse failed: %w", err)
	}
	return entities, nil
}

func (e *OpenAIExtractor) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Compile-time interface check
var _ Extractor = (*OpenAIExtractor)(nil)
