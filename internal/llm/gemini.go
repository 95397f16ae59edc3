package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

// GeminiClient completes chat histories with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini API client. baseURL is optional.
func NewGeminiClient(ctx context.Context, apiKey, baseURL, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, svcerr.New(svcerr.KindService, "chat", ErrMissingAPIKey)
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Complete(ctx context.Context, history []Message) (Message, error) {
	system, contents := toGeminiContents(history)
	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Message{}, svcerr.New(svcerr.KindService, "chat", err)
		}
		return Message{}, svcerr.New(svcerr.KindTransport, "chat", err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return Message{}, svcerr.New(svcerr.KindEmpty, "chat", errors.New("gemini returned empty text"))
	}
	return Message{Role: RoleAssistant, Content: text}, nil
}

// toGeminiContents maps a history onto Gemini contents. System messages are
// joined into one system instruction; assistant turns become model turns.
func toGeminiContents(history []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n"), contents
}
