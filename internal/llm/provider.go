// Package llm wraps the text-generation oracle: provider clients plus
// the structured classification calls the conversation flow depends on.
package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/kayz/maniflow/internal/config"
)

// Provider is the raw completion oracle: one prompt in, one text out.
// Implementations are non-deterministic, potentially slow and may fail;
// every call site defines a deterministic textual fallback.
type Provider interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Name() string
}

// NewProvider builds a provider from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic", "claude":
		return newAnthropicProvider(cfg)
	case "openai", "":
		return newOpenAIProvider(cfg)
	default:
		// Anything else is treated as an OpenAI-compatible gateway
		// reachable through base_url (DeepSeek, Qwen, GigaChat, ...).
		return newOpenAIProvider(cfg)
	}
}

const completionMaxTokens = 1024

type openAIProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(cfg config.LLMConfig) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %q", cfg.Provider)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &openAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicProvider struct {
	client *anthropic.Client
	model  string
}

func newAnthropicProvider(cfg config.LLMConfig) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %q", cfg.Provider)
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3Dot5HaikuLatest)
	}

	return &anthropicProvider{
		client: anthropic.NewClient(cfg.APIKey, opts...),
		model:  model,
	}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(p.model),
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(prompt),
		},
		MaxTokens: completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion error: %w", err)
	}
	return resp.GetFirstContentText(), nil
}
