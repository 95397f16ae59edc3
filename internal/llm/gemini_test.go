package llm

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestGemini_NoKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", "", "gemini-2.5-flash"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestToGeminiContents_MapsRoles(t *testing.T) {
	system, contents := toGeminiContents([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleSystem, Content: "describe objects"},
	})
	if system != "be brief\ndescribe objects" {
		t.Fatalf("unexpected system instruction %q", system)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != string(genai.RoleUser) || contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("unexpected roles %q, %q", contents[0].Role, contents[1].Role)
	}
	if contents[1].Parts[0].Text != "hello" {
		t.Fatalf("unexpected text %q", contents[1].Parts[0].Text)
	}
}
