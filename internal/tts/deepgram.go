package tts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

// DeepgramClient streams narration audio over Deepgram's speak websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string

	// IdleWindow ends a stream once audio has started and then stopped arriving for this long.
	IdleWindow time.Duration
	// MaxDuration bounds a single utterance.
	MaxDuration time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:      apiKey,
		model:       model,
		sampleRate:  48000,
		encoding:    "linear16",
		IdleWindow:  400 * time.Millisecond,
		MaxDuration: 60 * time.Second,
	}
}

func (d *DeepgramClient) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- svcerr.New(svcerr.KindService, "deepgram", errors.New("api key missing"))
			return
		}
		if text == "" {
			return
		}
		if err := d.speak(ctx, text, pcmCh); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	return pcmCh, errCh
}

func (d *DeepgramClient) speak(ctx context.Context, text string, pcmCh chan<- []byte) error {
	var lastAudio atomic.Int64
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		lastAudio.Store(time.Now().UnixNano())
		b := make([]byte, len(data))
		copy(b, data)
		select {
		case pcmCh <- b:
		case <-ctx.Done():
		}
		return nil
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return svcerr.New(svcerr.KindTransport, "deepgram", fmt.Errorf("create ws client: %w", err))
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return svcerr.New(svcerr.KindTransport, "deepgram", errors.New("connect failed"))
	}
	if err := dg.SpeakWithText(text); err != nil {
		return svcerr.New(svcerr.KindTransport, "deepgram", fmt.Errorf("speak text: %w", err))
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}
	d.waitIdle(ctx, &lastAudio)
	return nil
}

// waitIdle returns once audio has started and then paused for IdleWindow, or
// after MaxDuration. The speak socket has no end-of-utterance event for flushed text.
func (d *DeepgramClient) waitIdle(ctx context.Context, lastAudio *atomic.Int64) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(d.MaxDuration)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if last := lastAudio.Load(); last != 0 && now.Sub(time.Unix(0, last)) > d.IdleWindow {
				return
			}
			if now.After(deadline) {
				log.Printf("deepgram: utterance exceeded %s, stopping", d.MaxDuration)
				return
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if e != nil {
		log.Printf("deepgram: server error: %+v", *e)
	}
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
