// Package conversation holds the ordered message log shared by the chat UI
// and the capture pipeline.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/snap-narrator/internal/llm"
	"github.com/chadiek/snap-narrator/internal/svcerr"
)

const DefaultPreamble = "Act as an AI Model. Reply to user questions."

var ErrEmptyMessage = errors.New("conversation: empty message")

// Message is one entry of the session log. Seq starts at 1 and has no gaps.
type Message struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Speaker plays text aloud without blocking.
type Speaker interface {
	Speak(text string)
}

// Session is an append-only conversation log. The preamble is prepended to the
// first user message stored, once per session.
type Session struct {
	chat     llm.Client
	speaker  Speaker
	preamble string

	mu           sync.Mutex
	messages     []Message
	preambleUsed bool
	listeners    []func(Message)

	// one user exchange in flight at a time
	submitMu sync.Mutex
}

// NewSession constructs a Session. An empty preamble disables it; speaker may be nil.
func NewSession(chat llm.Client, speaker Speaker, preamble string) *Session {
	return &Session{chat: chat, speaker: speaker, preamble: strings.TrimSpace(preamble)}
}

// Subscribe registers fn to receive every message appended after the call, in
// Seq order. fn runs under the session lock and must not call back into the session.
func (s *Session) Subscribe(fn func(Message)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Append stores a message and returns it with its assigned Seq. When narrate is
// set the content is handed to the speaker.
func (s *Session) Append(role llm.Role, content string, narrate bool) Message {
	if strings.TrimSpace(content) == "" {
		log.Printf("conversation: appending empty %s message", role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == llm.RoleUser && s.preamble != "" && !s.preambleUsed {
		content = s.preamble + "\n" + content
		s.preambleUsed = true
	}
	m := Message{Role: role, Content: content, Seq: len(s.messages) + 1, CreatedAt: time.Now()}
	s.messages = append(s.messages, m)
	for _, fn := range s.listeners {
		fn(m)
	}
	if narrate && s.speaker != nil {
		s.speaker.Speak(content)
	}
	return m
}

// SubmitUserMessage appends text as a user message, asks the chat client for a
// reply using the full history, and appends the reply with narration. On
// failure the user message stays in the log and the error is returned.
func (s *Session) SubmitUserMessage(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.Append(llm.RoleUser, text, false)
	reply, err := s.chat.Complete(ctx, toHistory(s.Messages()))
	if err != nil {
		var se *svcerr.Error
		if !errors.As(err, &se) {
			err = svcerr.New(svcerr.KindUnknown, "chat", err)
		}
		log.Printf("conversation: chat failed (%s): %v", svcerr.KindOf(err), err)
		return Message{}, err
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return Message{}, svcerr.New(svcerr.KindEmpty, "chat", errors.New("empty reply"))
	}
	return s.Append(llm.RoleAssistant, content, true), nil
}

// Messages returns a copy of the log in Seq order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func toHistory(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
