package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/omegacore/agentrun/internal/llm"
	"github.com/omegacore/agentrun/internal/loop"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements loop.LLMInvoker using the OpenAI-compatible protocol.
// Works with any endpoint that supports the OpenAI chat completions API.
type Client struct {
	client *openailib.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the API is unresponsive.
	// Timeout is configurable via LLM_HTTP_TIMEOUT (seconds); default 300s to
	// accommodate slow reasoning models (e.g. Kimi-K2.5, DeepSeek-R1).
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

// Invoke implements loop.LLMInvoker: it sends the agent loop's system
// prompt and tagged-variant history through the OpenAI-compatible chat
// completions endpoint once per call (the Engine already retries failed
// Invoke calls via internal/retry, so this method does not retry on its
// own) and reports token usage converted to a USD estimate via the
// per-model price table.
func (c *Client) Invoke(ctx context.Context, systemPrompt string, history []loop.ChatMessage, opts loop.CallOptions) (string, int, float64, error) {
	openaiMsgs := make([]openailib.ChatCompletionMessage, 0, len(history)+1)
	openaiMsgs = append(openaiMsgs, openailib.ChatCompletionMessage{
		Role:    openailib.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		openaiMsgs = append(openaiMsgs, toOpenAIMessage(m))
	}

	req := openailib.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    openaiMsgs,
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.ResolveThinkingMode() == "native" {
		req.ReasoningEffort = c.config.ReasoningEffort
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("openai: no choices returned")
	}

	tokens := resp.Usage.TotalTokens
	costUSD := 0.0
	if cost, ok := llm.ResolveModelCostConfig(c.config.Model); ok {
		costUSD = llm.EstimateUsageCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
	}

	return resp.Choices[0].Message.Content, tokens, costUSD, nil
}

// toOpenAIMessage converts one ChatMessage, including its tagged-variant
// Content (plain text or multi-part text+image), into the OpenAI wire
// format. Image parts are sent as-is; the OpenAI API accepts both full
// data URLs and plain http(s) URLs in the same field.
func toOpenAIMessage(m loop.ChatMessage) openailib.ChatCompletionMessage {
	role := openailib.ChatMessageRoleUser
	switch m.Role {
	case loop.RoleAssistant:
		role = openailib.ChatMessageRoleAssistant
	case loop.RoleSystem:
		role = openailib.ChatMessageRoleSystem
	}

	switch content := m.Content.(type) {
	case loop.TextContent:
		return openailib.ChatCompletionMessage{Role: role, Content: string(content)}
	case loop.PartsContent:
		parts := make([]openailib.ChatMessagePart, 0, len(content))
		for _, p := range content {
			switch part := p.(type) {
			case loop.TextPart:
				parts = append(parts, openailib.ChatMessagePart{
					Type: openailib.ChatMessagePartTypeText,
					Text: string(part),
				})
			case loop.ImagePart:
				parts = append(parts, openailib.ChatMessagePart{
					Type: openailib.ChatMessagePartTypeImageURL,
					ImageURL: &openailib.ChatMessageImageURL{
						URL:    part.URL,
						Detail: openailib.ImageURLDetail(part.Detail),
					},
				})
			}
		}
		return openailib.ChatCompletionMessage{Role: role, MultiContent: parts}
	default:
		return openailib.ChatCompletionMessage{Role: role, Content: m.Text()}
	}
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}
