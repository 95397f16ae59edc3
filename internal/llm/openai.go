package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

// CerebrasBaseURL serves the OpenAI chat completions API for Cerebras-hosted models.
const CerebrasBaseURL = "https://api.cerebras.ai/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	APIKey string
	Model  string
	// MaxContextTokens rejects histories over budget before calling the API. Zero disables the check.
	MaxContextTokens int
	Counter          TokenCounter

	client *openai.Client
}

// NewOpenAIClient builds a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &OpenAIClient{
		APIKey:  apiKey,
		Model:   model,
		Counter: NewTokenCounter(),
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, history []Message) (Message, error) {
	if c.APIKey == "" {
		return Message{}, svcerr.New(svcerr.KindService, "chat", ErrMissingAPIKey)
	}
	if c.MaxContextTokens > 0 && c.Counter != nil {
		n := c.Counter.CountMessages(history)
		if n > c.MaxContextTokens {
			return Message{}, svcerr.New(svcerr.KindService, "chat", fmt.Errorf("%w: %d > %d", ErrContextOverflow, n, c.MaxContextTokens))
		}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.Model,
		Messages: msgs,
	})
	if err != nil {
		return Message{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, svcerr.New(svcerr.KindEmpty, "chat", errors.New("empty choices"))
	}
	answer := resp.Choices[0].Message
	return Message{Role: RoleAssistant, Content: strings.TrimSpace(answer.Content)}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return svcerr.New(svcerr.KindService, "chat", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return svcerr.New(svcerr.KindService, "chat", err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return svcerr.New(svcerr.KindParse, "chat", err)
	}
	return svcerr.New(svcerr.KindTransport, "chat", err)
}
