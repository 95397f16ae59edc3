package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

func TestOpenAI_NoKey(t *testing.T) {
	c := NewOpenAIClient("", "", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestOpenAI_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		kind    svcerr.Kind
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }, svcerr.KindService},
		{"api_error", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(401)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		}, svcerr.KindService},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }, svcerr.KindParse},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}, svcerr.KindEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewOpenAIClient("key", srv.URL+"/v1", "model")
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := c.Complete(ctx, []Message{{Role: RoleUser, Content: "hi"}})
			if err == nil {
				t.Fatalf("expected error; got nil")
			}
			if got := svcerr.KindOf(err); got != tc.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
}

func TestOpenAI_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := NewOpenAIClient("key", url+"/v1", "model")
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if svcerr.KindOf(err) != svcerr.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestOpenAI_PreservesRolesAndOrder(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer auth")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  a mug on a desk  "}}]}`))
	}))
	defer srv.Close()

	history := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, Content: "what is it?"},
	}
	c := NewOpenAIClient("key", srv.URL+"/v1", "gpt-4")
	reply, err := c.Complete(context.Background(), history)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply.Role != RoleAssistant || reply.Content != "a mug on a desk" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got.Model != "gpt-4" {
		t.Fatalf("expected model gpt-4, got %q", got.Model)
	}
	if len(got.Messages) != len(history) {
		t.Fatalf("expected %d messages, got %d", len(history), len(got.Messages))
	}
	for i := range history {
		if got.Messages[i] != history[i] {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got.Messages[i], history[i])
		}
	}
}

type fixedCounter int

func (f fixedCounter) CountMessages([]Message) int { return int(f) }

func TestOpenAI_ContextBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()
	c := NewOpenAIClient("key", srv.URL+"/v1", "model")
	c.MaxContextTokens = 100
	c.Counter = fixedCounter(101)
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no request when over budget")
	}
}

func TestEstimateTokens(t *testing.T) {
	if estimateTokens("") != 0 {
		t.Fatalf("expected 0 for empty text")
	}
	if got := estimateTokens("one two three"); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}
