package narration

import (
	"context"
	"sync"
	"time"
)

const bytesPerSecond48k = 48000 * 2

// ClockSink plays nothing but keeps time as if a speaker consumed the audio
// in real time. It is the default when no browser is attached.
type ClockSink struct {
	mu    sync.Mutex
	until time.Time
	reset chan struct{}
}

func NewClockSink() *ClockSink {
	return &ClockSink{reset: make(chan struct{})}
}

func (c *ClockSink) WritePCM(pcm []byte) {
	d := time.Duration(len(pcm)) * time.Second / bytesPerSecond48k
	c.mu.Lock()
	now := time.Now()
	if c.until.Before(now) {
		c.until = now
	}
	c.until = c.until.Add(d)
	c.mu.Unlock()
}

func (c *ClockSink) FlushTail() {}

func (c *ClockSink) Reset() {
	c.mu.Lock()
	c.until = time.Time{}
	close(c.reset)
	c.reset = make(chan struct{})
	c.mu.Unlock()
}

// Drain waits until the queued duration has elapsed. A Reset ends the wait early.
func (c *ClockSink) Drain(ctx context.Context) error {
	c.mu.Lock()
	remaining := time.Until(c.until)
	reset := c.reset
	c.mu.Unlock()
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-reset:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
