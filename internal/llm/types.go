package llm

import (
	"context"
	"errors"
)

// Role is the author of a chat message as sent to the model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client completes a chat history with the next assistant message.
// Implementations keep no memory between calls: the full history is passed every time.
type Client interface {
	Complete(ctx context.Context, history []Message) (Message, error)
}

var (
	// ErrMissingAPIKey is returned before any network call when no key is configured.
	ErrMissingAPIKey = errors.New("api key missing")
	// ErrContextOverflow is returned when a history exceeds the configured token budget.
	ErrContextOverflow = errors.New("history exceeds context token budget")
)

// Unavailable returns a Client whose every call fails with err. It stands in
// for a provider that could not be configured at startup.
func Unavailable(err error) Client { return unavailable{err: err} }

type unavailable struct{ err error }

func (u unavailable) Complete(context.Context, []Message) (Message, error) { return Message{}, u.err }
