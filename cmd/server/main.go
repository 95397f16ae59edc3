package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/snap-narrator/internal/camera"
	"github.com/chadiek/snap-narrator/internal/config"
	"github.com/chadiek/snap-narrator/internal/conversation"
	httpserver "github.com/chadiek/snap-narrator/internal/httpserver"
	"github.com/chadiek/snap-narrator/internal/hub"
	"github.com/chadiek/snap-narrator/internal/llm"
	"github.com/chadiek/snap-narrator/internal/narration"
	"github.com/chadiek/snap-narrator/internal/pipeline"
	"github.com/chadiek/snap-narrator/internal/rtc"
	"github.com/chadiek/snap-narrator/internal/tts"
	"github.com/chadiek/snap-narrator/internal/vision"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	chat := newChatClient(ctx, cfg, cfg.ChatModel)
	summary := newChatClient(ctx, cfg, cfg.SummaryModel)

	visionClient, err := vision.NewClient(ctx, cfg.VisionAPIKey, cfg.VisionEndpoint)
	if err != nil {
		log.Fatalf("vision client: %v", err)
	}

	gate := narration.NewGate(newSpeechStreamer(cfg), nil)
	gate.OnSpoken = func(text string, interrupted bool) {
		if interrupted {
			log.Printf("narration interrupted after: %q", text)
		}
	}
	session := conversation.NewSession(chat, gate, cfg.ChatPreamble)
	feed := camera.NewFeed()

	var pipe *pipeline.Pipeline
	h := hub.New(hub.Actions{
		Capture: func() error {
			_, err := pipe.Trigger(ctx)
			return runNotice(err)
		},
		Toggle: func() error {
			_, err := pipe.TogglePreview(ctx)
			return runNotice(err)
		},
		Submit: func(text string) error {
			if _, err := session.SubmitUserMessage(ctx, text); err != nil {
				return errors.New(httpserver.UserMessage(err))
			}
			return nil
		},
		Frame: feed.Push,
	})
	session.Subscribe(h.PublishMessage)

	pipe = pipeline.New(pipeline.Config{
		Countdown:         cfg.CaptureCountdown,
		Grace:             cfg.NarrationGrace,
		StartTimeout:      cfg.NarrationStartTimeout,
		MaxImageDimension: cfg.MaxImageDimension,
	}, pipeline.Deps{
		Surface: h,
		Camera:  feed,
		Vision:  visionClient,
		Chat:    summary,
		Speech:  gate,
		Log:     session,
	})
	pipe.OnStage = func(r pipeline.Run) { h.PublishStage(r.ID, r.Stage.String()) }

	srv := httpserver.New(ctx, cfg, httpserver.Deps{
		Pipeline:  pipe,
		Session:   session,
		Hub:       h,
		Narration: rtc.NewHandler(gate, cfg.ICEServersJSON),
		Notice:    h.Notice,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	// cancels any capture run; its teardown hides the surface
	stop()
	gate.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// runNotice rewords a refusal caused by an active run for the browser.
func runNotice(err error) error {
	if errors.Is(err, pipeline.ErrRunActive) {
		return errors.New("a capture is already in progress")
	}
	return err
}

func newChatClient(ctx context.Context, cfg config.Config, model string) llm.Client {
	switch cfg.ChatProvider {
	case "gemini":
		c, err := llm.NewGeminiClient(ctx, cfg.GeminiKey, "", model)
		if err != nil {
			log.Printf("gemini client unavailable: %v", err)
			return llm.Unavailable(err)
		}
		return c
	case "cerebras":
		c := llm.NewOpenAIClient(cfg.CerebrasKey, llm.CerebrasBaseURL, model)
		c.MaxContextTokens = cfg.MaxContextTokens
		return c
	default:
		c := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, model)
		c.MaxContextTokens = cfg.MaxContextTokens
		return c
	}
}

func newSpeechStreamer(cfg config.Config) tts.Streamer {
	if cfg.TTSProvider == "elevenlabs" {
		return tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
}
