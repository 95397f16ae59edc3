package tts

import "context"

// Streamer synthesizes text into 48kHz 16-bit little-endian mono PCM.
// Both channels are closed when synthesis ends; at most one error is sent.
type Streamer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}
