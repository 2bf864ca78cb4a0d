package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"study-rag/internal/config"
)

// Client sends single-turn system+user prompts to a chat model.
type Client struct {
	llm         llms.Model
	model       string
	temperature *float64
	maxTokens   int
}

// New creates the chat model for the configured provider.
func New(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating LLM client")

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}

	c := NewFromModel(llm, cfg.Model)
	temperature := cfg.Temperature
	c.temperature = &temperature
	c.maxTokens = cfg.MaxTokens
	return c, nil
}

// NewFromModel wraps an existing langchaingo model.
func NewFromModel(llm llms.Model, model string) *Client {
	return &Client{llm: llm, model: model}
}

func (c *Client) Model() string { return c.model }

// Uncapped returns a copy of c that sends no max_tokens limit.
func (c *Client) Uncapped() *Client {
	cp := *c
	cp.maxTokens = 0
	return &cp
}

// Complete sends one system and one user message and returns the first choice.
// Per-call options override the configured temperature and token limit.
func (c *Client) Complete(ctx context.Context, system, prompt string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var callOpts []llms.CallOption
	if c.temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*c.temperature))
	}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}
	callOpts = append(callOpts, opts...)

	res, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return strings.TrimSpace(res.Choices[0].Content), nil
}
