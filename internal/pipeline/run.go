package pipeline

import (
	"time"

	"github.com/chadiek/snap-narrator/internal/camera"
	"github.com/chadiek/snap-narrator/internal/vision"
)

type Stage int

const (
	StageIdle Stage = iota
	StagePreviewActive
	StageCaptured
	StageAnalyzing
	StageSummarizing
	StageAwaitingNarrationStart
	StageNarrationPlaying
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePreviewActive:
		return "preview_active"
	case StageCaptured:
		return "captured"
	case StageAnalyzing:
		return "analyzing"
	case StageSummarizing:
		return "summarizing"
	case StageAwaitingNarrationStart:
		return "awaiting_narration_start"
	case StageNarrationPlaying:
		return "narration_playing"
	default:
		return "unknown"
	}
}

// MarshalText lets stages appear by name in JSON.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Run is the state of one capture, from trigger to teardown.
type Run struct {
	ID            string                `json:"id"`
	Stage         Stage                 `json:"stage"`
	StartedAt     time.Time             `json:"started_at"`
	Frame         camera.Frame          `json:"-"`
	Analysis      vision.AnalysisResult `json:"analysis"`
	NarrationText string                `json:"narration_text,omitempty"`
}
