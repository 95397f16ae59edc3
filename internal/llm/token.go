package llm

import (
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the prompt size of a chat history.
type TokenCounter interface {
	CountMessages(history []Message) int
}

// tiktokenCounter counts with the cl100k_base encoding. The encoding is loaded
// on first use; if it cannot be loaded, a word-based estimate is used instead.
type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter backed by tiktoken.
func NewTokenCounter() TokenCounter { return &tiktokenCounter{} }

func (t *tiktokenCounter) CountMessages(history []Message) int {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Printf("llm: tiktoken unavailable, estimating tokens from words: %v", err)
			return
		}
		t.enc = enc
	})
	// every message follows <im_start>{role}\n{content}<im_end>\n
	const perMessage = 4
	total := 3 // reply is primed with <im_start>assistant
	for _, m := range history {
		total += perMessage
		if t.enc != nil {
			total += len(t.enc.Encode(m.Content, nil, nil))
		} else {
			total += estimateTokens(m.Content)
		}
	}
	return total
}

// estimateTokens approximates 100 tokens per 75 words.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*100 + 74) / 75
}
