// Package pipeline drives one capture run: preview, snapshot, vision analysis,
// summarization, and the wait for narration to play out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chadiek/snap-narrator/internal/camera"
	"github.com/chadiek/snap-narrator/internal/conversation"
	"github.com/chadiek/snap-narrator/internal/llm"
	"github.com/chadiek/snap-narrator/internal/svcerr"
	"github.com/chadiek/snap-narrator/internal/vision"
)

const (
	SummarySystemPrompt = "You are an assistant that analyzes objects detected by an image analysis system."
	SummaryUserPrefix   = "Analyze the following details and provide a comprehensive description of the object(s):\n"
)

// Messages appended to the session when a run cannot continue.
const (
	MsgCaptureFailed  = "Error capturing image."
	MsgAnalysisFailed = "Error analyzing image."
	MsgNothingFound   = "No objects or text detected."
	MsgSummaryFailed  = "Error generating analysis."
	MsgSummaryEmpty   = "Error generating detailed description."
)

var ErrRunActive = errors.New("pipeline: a capture run is already active")

// Surface is the on-screen capture area.
type Surface interface {
	Hide()
	ShowLive()
	ShowFrozen(frame camera.Frame)
}

// Speech reports narration playback state.
type Speech interface {
	WaitSpeaking(ctx context.Context, want bool) error
}

// Log receives the messages a run produces.
type Log interface {
	Append(role llm.Role, content string, narrate bool) conversation.Message
}

type Config struct {
	// Countdown is the live preview time before the snapshot.
	Countdown time.Duration
	// Grace is the pause after the summary is appended before checking for narration.
	Grace time.Duration
	// StartTimeout bounds the wait for narration to begin.
	StartTimeout time.Duration
	// MaxImageDimension downscales snapshots before analysis; 0 keeps full size.
	MaxImageDimension int
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Surface Surface
	Camera  camera.Device
	Vision  vision.Analyzer
	Chat    llm.Client
	Speech  Speech
	Log     Log
}

// Pipeline runs at most one capture at a time. Between runs the user may
// toggle the live preview; a run takes the surface over from it.
type Pipeline struct {
	cfg  Config
	deps Deps

	// OnStage, if set, observes every stage transition. It must not block.
	OnStage func(r Run)

	nextID atomic.Uint64

	mu sync.Mutex
	// current is the only record of an active run.
	current    *Run
	previewing bool
}

func New(cfg Config, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, deps: deps}
}

// Trigger starts a run in the background. It fails with ErrRunActive while
// another run has not reached Idle.
func (p *Pipeline) Trigger(ctx context.Context) (Run, error) {
	r, err := p.begin()
	if err != nil {
		return Run{}, err
	}
	snap := *r
	go p.execute(ctx, r)
	return snap, nil
}

// Run executes one capture synchronously and returns the finished run.
func (p *Pipeline) Run(ctx context.Context) (Run, error) {
	r, err := p.begin()
	if err != nil {
		return Run{}, err
	}
	p.execute(ctx, r)
	p.mu.Lock()
	defer p.mu.Unlock()
	return *r, nil
}

// Active returns a snapshot of the run in progress, if any.
func (p *Pipeline) Active() (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Run{}, false
	}
	return *p.current, true
}

func (p *Pipeline) begin() (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return nil, ErrRunActive
	}
	r := &Run{
		ID:        fmt.Sprintf("run-%d", p.nextID.Add(1)),
		Stage:     StageIdle,
		StartedAt: time.Now(),
	}
	p.current = r
	p.previewing = false
	return r, nil
}

// TogglePreview shows or hides the live camera feed outside a capture run and
// reports whether the preview is now live. It fails with ErrRunActive while a
// run owns the surface.
func (p *Pipeline) TogglePreview(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return false, ErrRunActive
	}
	if p.previewing {
		p.deps.Camera.Stop()
		p.deps.Surface.Hide()
		p.previewing = false
		log.Printf("preview hidden")
		return false, nil
	}
	if err := p.deps.Camera.Start(ctx); err != nil {
		return false, err
	}
	p.deps.Surface.ShowLive()
	p.previewing = true
	log.Printf("preview shown")
	return true, nil
}

// Previewing reports whether the live preview is shown outside a run.
func (p *Pipeline) Previewing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previewing
}

func (p *Pipeline) execute(ctx context.Context, r *Run) {
	// Every path ends here, including cancellation.
	defer p.finish(r)

	p.setStage(r, StagePreviewActive)
	p.deps.Surface.ShowLive()
	if err := p.deps.Camera.Start(ctx); err != nil {
		p.fail(r, MsgCaptureFailed, err)
		return
	}
	if !sleep(ctx, p.cfg.Countdown) {
		p.deps.Camera.Stop()
		log.Printf("[%s] canceled during preview", r.ID)
		return
	}

	p.setStage(r, StageCaptured)
	frame, err := p.deps.Camera.Snapshot()
	p.deps.Camera.Stop()
	if err != nil {
		p.fail(r, MsgCaptureFailed, err)
		return
	}
	p.update(r, func(r *Run) { r.Frame = frame })
	p.deps.Surface.ShowFrozen(frame)

	p.setStage(r, StageAnalyzing)
	img, err := camera.Encode(frame, p.cfg.MaxImageDimension)
	if err != nil {
		p.fail(r, MsgCaptureFailed, err)
		return
	}
	res, err := p.deps.Vision.Analyze(ctx, img)
	if err != nil {
		p.fail(r, MsgAnalysisFailed, err)
		return
	}
	p.update(r, func(r *Run) { r.Analysis = res })
	if !res.Detected {
		log.Printf("[%s] vision returned no responses", r.ID)
		p.deps.Log.Append(llm.RoleAssistant, MsgNothingFound, true)
		return
	}

	p.setStage(r, StageSummarizing)
	reply, err := p.deps.Chat.Complete(ctx, SummaryRequest(res))
	if err != nil {
		p.fail(r, MsgSummaryFailed, err)
		return
	}
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		p.fail(r, MsgSummaryEmpty, svcerr.New(svcerr.KindEmpty, "chat", errors.New("empty completion")))
		return
	}
	p.update(r, func(r *Run) { r.NarrationText = text })
	p.deps.Log.Append(llm.RoleAssistant, text, true)

	p.setStage(r, StageAwaitingNarrationStart)
	if !sleep(ctx, p.cfg.Grace) {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.StartTimeout)
	err = p.deps.Speech.WaitSpeaking(waitCtx, true)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[%s] narration did not start within %s", r.ID, p.cfg.StartTimeout)
		}
		return
	}

	p.setStage(r, StageNarrationPlaying)
	if err := p.deps.Speech.WaitSpeaking(ctx, false); err != nil {
		log.Printf("[%s] canceled during narration: %v", r.ID, err)
	}
}

// finish tears the run down. The run is released before Idle is announced, so
// observers of Idle can start the next one.
func (p *Pipeline) finish(r *Run) {
	p.deps.Surface.Hide()
	p.mu.Lock()
	r.Stage = StageIdle
	snap := *r
	p.current = nil
	p.mu.Unlock()
	log.Printf("[%s] stage=%s", r.ID, StageIdle)
	log.Printf("[%s] run finished after %s", r.ID, time.Since(r.StartedAt).Round(time.Millisecond))
	if p.OnStage != nil {
		p.OnStage(snap)
	}
}

// SummaryRequest builds the chat request that turns an analysis into a description.
func SummaryRequest(res vision.AnalysisResult) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SummarySystemPrompt},
		{Role: llm.RoleUser, Content: SummaryUserPrefix + vision.Describe(res)},
	}
}

// fail records a terminal stage failure in the log and the session.
func (p *Pipeline) fail(r *Run, msg string, err error) {
	p.mu.Lock()
	stage := r.Stage
	p.mu.Unlock()
	log.Printf("[%s] %s failed (%s): %v", r.ID, stage, svcerr.KindOf(err), err)
	p.deps.Log.Append(llm.RoleAssistant, msg, true)
}

func (p *Pipeline) update(r *Run, fn func(*Run)) {
	p.mu.Lock()
	fn(r)
	p.mu.Unlock()
}

func (p *Pipeline) setStage(r *Run, s Stage) {
	p.mu.Lock()
	r.Stage = s
	snap := *r
	p.mu.Unlock()
	log.Printf("[%s] stage=%s", r.ID, s)
	if p.OnStage != nil {
		p.OnStage(snap)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
