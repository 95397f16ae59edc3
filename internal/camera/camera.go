// Package camera supplies still frames to the capture pipeline.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/nfnt/resize"
)

var ErrNoFrame = errors.New("camera: no frame available")

const jpegQuality = 85

// Frame is one captured still image.
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
}

// Device is a live video source that can be snapshotted.
type Device interface {
	Start(ctx context.Context) error
	Snapshot() (Frame, error)
	Stop()
}

// Feed is a Device backed by frames pushed from a browser. Frames pushed
// while the feed is stopped are dropped.
type Feed struct {
	mu     sync.Mutex
	live   bool
	latest *Frame
}

func NewFeed() *Feed { return &Feed{} }

// Start begins accepting frames. Any frame from a previous session is discarded.
func (f *Feed) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.live = true
	f.latest = nil
	f.mu.Unlock()
	return nil
}

// Stop releases the feed; later pushes are ignored.
func (f *Feed) Stop() {
	f.mu.Lock()
	f.live = false
	f.mu.Unlock()
}

// Live reports whether the feed is accepting frames.
func (f *Feed) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Push decodes an encoded image (JPEG or PNG) and keeps it as the latest frame.
func (f *Feed) Push(data []byte) error {
	if !f.Live() {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("camera: decode frame: %w", err)
	}
	b := img.Bounds()
	fr := &Frame{Image: img, Width: b.Dx(), Height: b.Dy(), CapturedAt: time.Now()}
	f.mu.Lock()
	if f.live {
		f.latest = fr
	}
	f.mu.Unlock()
	return nil
}

func (f *Feed) Snapshot() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return Frame{}, ErrNoFrame
	}
	return *f.latest, nil
}

// Encode JPEG-encodes the frame, scaling it down so that its longer side is at
// most maxDim. maxDim <= 0 keeps the original size.
func Encode(fr Frame, maxDim int) ([]byte, error) {
	if fr.Image == nil {
		return nil, ErrNoFrame
	}
	img := fr.Image
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		if b.Dx() >= b.Dy() {
			img = resize.Resize(uint(maxDim), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(maxDim), img, resize.Lanczos3)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("camera: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
