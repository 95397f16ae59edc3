package rtc

import (
	"context"
	"encoding/binary"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	frameDuration = 20 * time.Millisecond
	frameSamples  = 960 // 20ms at 48kHz
	maxPacket     = 4000
	tailFrames    = 10
	queueFrames   = 512
)

// sampleWriter is the part of *webrtc.TrackLocalStaticSample the writer needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type pacedFrame struct {
	gen  uint64
	data []byte
}

// OpusPacedWriter encodes 48kHz mono PCM into Opus frames and hands them to a
// track at real-time pace. It is the narration.Sink for a connected browser.
//
// Frames carry the generation they were encoded in; Reset bumps the generation
// so anything still queued or in flight from the previous utterance is dropped.
type OpusPacedWriter struct {
	track     sampleWriter
	frames    chan pacedFrame
	stopCh    chan struct{}
	closeOnce sync.Once
	gen       atomic.Uint64

	mu      sync.Mutex
	enc     frameEncoder
	pcm     []int16
	resetCh chan struct{}
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(enc, track, queueFrames)
	go w.pacer()
	return w, nil
}

func newPacedWriter(enc frameEncoder, track sampleWriter, queue int) *OpusPacedWriter {
	return &OpusPacedWriter{
		track:   track,
		frames:  make(chan pacedFrame, queue),
		stopCh:  make(chan struct{}),
		enc:     enc,
		resetCh: make(chan struct{}),
	}
}

// WritePCM encodes every complete frame in pcmBytes, keeping the remainder for
// the next call. It blocks while the queue is full, until Reset or Close.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	for i := 0; i+1 < len(pcmBytes); i += 2 {
		w.pcm = append(w.pcm, int16(binary.LittleEndian.Uint16(pcmBytes[i:])))
	}
	var pkts [][]byte
	off := 0
	for len(w.pcm)-off >= frameSamples {
		if pkt := w.encodeLocked(w.pcm[off : off+frameSamples]); pkt != nil {
			pkts = append(pkts, pkt)
		}
		off += frameSamples
	}
	n := copy(w.pcm, w.pcm[off:])
	w.pcm = w.pcm[:n]
	gen, reset := w.gen.Load(), w.resetCh
	w.mu.Unlock()

	w.push(gen, reset, pkts)
}

// FlushTail zero-pads the buffered remainder to a full frame and appends
// ~200ms of silence so the end of the utterance is not clipped.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	var pkts [][]byte
	if len(w.pcm) > 0 {
		pad := make([]int16, frameSamples)
		copy(pad, w.pcm)
		if pkt := w.encodeLocked(pad); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcm = w.pcm[:0]
	}
	silence := make([]int16, frameSamples)
	for i := 0; i < tailFrames; i++ {
		if pkt := w.encodeLocked(silence); pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	gen, reset := w.gen.Load(), w.resetCh
	w.mu.Unlock()

	w.push(gen, reset, pkts)
}

func (w *OpusPacedWriter) encodeLocked(frame []int16) []byte {
	buf := make([]byte, maxPacket)
	n, err := w.enc.Encode(frame, buf)
	if err != nil {
		log.Printf("rtc: opus encode: %v", err)
		return nil
	}
	if n <= 0 {
		return nil
	}
	return buf[:n]
}

func (w *OpusPacedWriter) push(gen uint64, reset <-chan struct{}, pkts [][]byte) {
	for _, p := range pkts {
		select {
		case w.frames <- pacedFrame{gen: gen, data: p}:
		case <-reset:
			return
		case <-w.stopCh:
			return
		}
	}
}

// Reset drops buffered PCM and queued frames so a replacement utterance starts at once.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	w.gen.Add(1)
	w.pcm = w.pcm[:0]
	close(w.resetCh)
	w.resetCh = make(chan struct{})
	w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Drain blocks until every queued frame has been handed to the track.
// It returns early if the writer is closed.
func (w *OpusPacedWriter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	empty := false
	for {
		if len(w.frames) == 0 {
			// one more tick so the last frame leaves the pacer
			if empty {
				return nil
			}
			empty = true
		} else {
			empty = false
		}
		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the pacer and releases blocked writers.
func (w *OpusPacedWriter) Close() {
	w.closeOnce.Do(func() { close(w.stopCh) })
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if data, ok := w.next(); ok {
				_ = w.track.WriteSample(media.Sample{Data: data, Duration: frameDuration})
			}
		}
	}
}

// next pops the first queued frame of the current generation.
func (w *OpusPacedWriter) next() ([]byte, bool) {
	for {
		select {
		case f := <-w.frames:
			if f.gen == w.gen.Load() {
				return f.data, true
			}
		default:
			return nil, false
		}
	}
}
