// Package narration plays assistant text aloud and exposes whether audio is playing.
package narration

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/chadiek/snap-narrator/internal/tts"
)

// Sink consumes 48kHz PCM bytes and performs delivery.
// Implementations should buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued audio immediately.
	Reset()
	// Drain blocks until queued audio has been played out.
	Drain(ctx context.Context) error
}

// Gate owns the single narration audio channel. A new Speak cancels the
// utterance in progress and replaces it.
type Gate struct {
	tts tts.Streamer

	mu       sync.Mutex
	sink     Sink
	speaking bool
	// changed is closed and replaced on every speaking transition.
	changed chan struct{}
	cancel  context.CancelFunc
	gen     uint64

	// OnSpoken, if set, receives the text that was actually played and whether it was cut short.
	OnSpoken func(text string, interrupted bool)
}

// NewGate constructs a Gate. A nil sink plays into a real-time clock.
func NewGate(t tts.Streamer, sink Sink) *Gate {
	if sink == nil {
		sink = NewClockSink()
	}
	return &Gate{tts: t, sink: sink, changed: make(chan struct{})}
}

// SetSink swaps the audio destination and returns the previous one.
// Audio already queued in the old sink is dropped.
func (g *Gate) SetSink(s Sink) Sink {
	if s == nil {
		s = NewClockSink()
	}
	g.mu.Lock()
	g.stopLocked()
	prev := g.sink
	g.sink = s
	g.mu.Unlock()
	prev.Reset()
	return prev
}

// ReleaseSink falls back to the clock sink if s is still installed.
func (g *Gate) ReleaseSink(s Sink) {
	g.mu.Lock()
	if g.sink != s {
		g.mu.Unlock()
		return
	}
	g.stopLocked()
	g.sink = NewClockSink()
	g.mu.Unlock()
}

// IsSpeaking reports whether narration audio is currently playing.
func (g *Gate) IsSpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

// WaitSpeaking blocks until IsSpeaking() == want or ctx is done.
func (g *Gate) WaitSpeaking(ctx context.Context, want bool) error {
	for {
		g.mu.Lock()
		if g.speaking == want {
			g.mu.Unlock()
			return nil
		}
		ch := g.changed
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Speak starts synthesizing and playing text and returns immediately.
func (g *Gate) Speak(text string) {
	text = strings.TrimSpace(text)
	g.mu.Lock()
	g.stopLocked()
	if text == "" {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.gen++
	gen := g.gen
	g.cancel = cancel
	sink := g.sink
	g.mu.Unlock()

	go g.play(ctx, gen, text, sink)
}

// Stop cancels the current utterance and drops queued audio.
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopLocked()
	g.mu.Unlock()
}

func (g *Gate) stopLocked() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
		g.gen++
		g.sink.Reset()
	}
	g.setSpeakingLocked(false)
}

func (g *Gate) setSpeakingLocked(v bool) {
	if g.speaking == v {
		return
	}
	g.speaking = v
	close(g.changed)
	g.changed = make(chan struct{})
}

// markSpeaking updates state only if gen is still the current utterance.
func (g *Gate) markSpeaking(gen uint64, v bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return false
	}
	g.setSpeakingLocked(v)
	if !v && g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	return true
}

func (g *Gate) play(ctx context.Context, gen uint64, text string, sink Sink) {
	var spoken strings.Builder
	started := false
	chunks := chunkReply(text)

CHUNK_LOOP:
	for i, chunk := range chunks {
		pcmCh, errCh := g.tts.StreamPCM48k(ctx, chunk)
		openPCM, openErr := true, true
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if !ok {
					openPCM = false
					continue
				}
				if len(b) == 0 || ctx.Err() != nil {
					continue
				}
				if !started {
					if !g.markSpeaking(gen, true) {
						break CHUNK_LOOP
					}
					started = true
				}
				sink.WritePCM(b)
			case e, ok := <-errCh:
				if ok && e != nil {
					log.Printf("narration: tts stream error: %v", e)
				}
				openErr = false
			case <-ctx.Done():
				break CHUNK_LOOP
			}
		}
		if ctx.Err() != nil {
			break
		}
		spoken.WriteString(chunk)
		if i < len(chunks)-1 {
			spoken.WriteString(" ")
		}
	}

	interrupted := ctx.Err() != nil
	if !interrupted && started {
		sink.FlushTail()
		if err := sink.Drain(ctx); err != nil || ctx.Err() != nil {
			interrupted = true
		}
	}
	g.markSpeaking(gen, false)
	if g.OnSpoken != nil && started {
		g.OnSpoken(strings.TrimSpace(spoken.String()), interrupted)
	}
}

// chunkReply splits narration text into sentence-like chunks so synthesis can
// start before the whole reply is processed.
// Heuristic: split on '.', '?', '!' and newlines, retaining punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		case '\n', '\r':
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	tail := strings.TrimSpace(b.String())
	if tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}
