package narration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTTS struct {
	frames int32
	delay  time.Duration
	err    error
}

func (f *fakeTTS) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if f.err != nil {
			errc <- f.err
			return
		}
		// emit a few small PCM chunks
		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.delay):
			}
			pcm <- []byte{1, 0, 2, 0}
			atomic.AddInt32(&f.frames, 1)
		}
	}()
	return pcm, errc
}

type fakeSink struct {
	wrote  int32
	resets int32
	hold   chan struct{}
}

func (s *fakeSink) WritePCM(p []byte) { atomic.AddInt32(&s.wrote, 1) }
func (*fakeSink) FlushTail()          {}
func (s *fakeSink) Reset()            { atomic.AddInt32(&s.resets, 1) }
func (s *fakeSink) Drain(ctx context.Context) error {
	if s.hold == nil {
		return nil
	}
	select {
	case <-s.hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitFor(t *testing.T, g *Gate, want bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.WaitSpeaking(ctx, want); err != nil {
		t.Fatalf("waiting for speaking=%v: %v", want, err)
	}
}

func TestGate_SpeakingFollowsPlayback(t *testing.T) {
	sink := &fakeSink{hold: make(chan struct{})}
	g := NewGate(&fakeTTS{delay: time.Millisecond}, sink)

	var mu sync.Mutex
	var spoken string
	g.OnSpoken = func(text string, interrupted bool) {
		mu.Lock()
		spoken = text
		mu.Unlock()
	}

	if g.IsSpeaking() {
		t.Fatalf("expected idle gate")
	}
	g.Speak("Hello world. How are you?")
	waitFor(t, g, true)
	// still speaking until the sink has drained
	time.Sleep(20 * time.Millisecond)
	if !g.IsSpeaking() {
		t.Fatalf("expected speaking while sink holds audio")
	}
	close(sink.hold)
	waitFor(t, g, false)

	if atomic.LoadInt32(&sink.wrote) != 6 {
		t.Fatalf("expected 6 pcm writes for 2 chunks, got %d", sink.wrote)
	}
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if spoken != "Hello world. How are you?" {
		t.Fatalf("unexpected spoken text %q", spoken)
	}
}

func TestGate_EmptyTextNeverSpeaks(t *testing.T) {
	g := NewGate(&fakeTTS{}, &fakeSink{})
	g.Speak("   ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := g.WaitSpeaking(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestGate_TTSErrorNeverSpeaks(t *testing.T) {
	g := NewGate(&fakeTTS{err: errors.New("no key")}, &fakeSink{})
	g.Speak("hello")
	time.Sleep(20 * time.Millisecond)
	if g.IsSpeaking() {
		t.Fatalf("expected not speaking after tts failure")
	}
}

func TestGate_SpeakReplacesCurrentUtterance(t *testing.T) {
	sink := &fakeSink{hold: make(chan struct{})}
	g := NewGate(&fakeTTS{delay: time.Millisecond}, sink)

	var interruptedCount int32
	g.OnSpoken = func(text string, interrupted bool) {
		if interrupted {
			atomic.AddInt32(&interruptedCount, 1)
		}
	}

	g.Speak("first")
	waitFor(t, g, true)
	g.Speak("second")
	if atomic.LoadInt32(&sink.resets) == 0 {
		t.Fatalf("expected sink reset on replacement")
	}
	waitFor(t, g, true)
	close(sink.hold)
	waitFor(t, g, false)
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&interruptedCount) != 1 {
		t.Fatalf("expected first utterance reported interrupted, got %d", interruptedCount)
	}
}

func TestGate_StopEndsSpeaking(t *testing.T) {
	sink := &fakeSink{hold: make(chan struct{})}
	g := NewGate(&fakeTTS{delay: time.Millisecond}, sink)
	g.Speak("hold on")
	waitFor(t, g, true)
	g.Stop()
	if g.IsSpeaking() {
		t.Fatalf("expected stop to clear speaking")
	}
}

func TestClockSink_DrainWaitsForQueuedAudio(t *testing.T) {
	c := NewClockSink()
	// 50ms of 48kHz mono 16-bit audio
	c.WritePCM(make([]byte, bytesPerSecond48k/20))
	start := time.Now()
	if err := c.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("drain returned too early")
	}
	c.WritePCM(make([]byte, bytesPerSecond48k))
	go func() { time.Sleep(10 * time.Millisecond); c.Reset() }()
	start = time.Now()
	_ = c.Drain(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("reset did not end drain")
	}
}

func TestChunkReply_SplitsAndTrims(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"  Hello world.  How are you?\nI am fine!  ", []string{"Hello world.", "How are you?", "I am fine!"}},
		{"no punctuation here", []string{"no punctuation here"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := chunkReply(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("len mismatch for %q: got %d want %d", tc.in, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("elem %d mismatch: got %q want %q", i, got[i], tc.want[i])
			}
		}
	}
}

func TestGate_ReleaseSinkFallsBackToClock(t *testing.T) {
	g := NewGate(&fakeTTS{delay: 20 * time.Millisecond}, nil)
	peer := &fakeSink{hold: make(chan struct{})}
	g.SetSink(peer)

	g.Speak("Hello there.")
	waitFor(t, g, true)

	// releasing a sink that is not installed changes nothing
	g.ReleaseSink(&fakeSink{})
	if !g.IsSpeaking() {
		t.Fatalf("releasing a stale sink must not stop narration")
	}

	g.ReleaseSink(peer)
	waitFor(t, g, false)
	if atomic.LoadInt32(&peer.resets) == 0 {
		t.Fatalf("expected the released sink to be reset")
	}
	wrote := atomic.LoadInt32(&peer.wrote)

	g.Speak("Again.")
	waitFor(t, g, true)
	waitFor(t, g, false)
	if atomic.LoadInt32(&peer.wrote) != wrote {
		t.Fatalf("audio went to a released sink")
	}
}
