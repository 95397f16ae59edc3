package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/chadiek/snap-narrator/internal/svcerr"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_flash_v2_5"
	readChunk         = 4096
)

// ElevenLabsClient reads pcm_48000 audio from the ElevenLabs streaming endpoint.
type ElevenLabsClient struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Client  *http.Client
}

func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		APIKey:  apiKey,
		VoiceID: voiceID,
		ModelID: elevenLabsModel,
		BaseURL: elevenLabsBaseURL,
		// narration length is unbounded; ctx ends long streams
		Client: &http.Client{},
	}
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// narratorVoice favors an even delivery for read-out descriptions.
var narratorVoice = voiceSettings{Stability: 0.6, SimilarityBoost: 0.75, SpeakerBoost: true}

func (e *ElevenLabsClient) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- svcerr.New(svcerr.KindService, "elevenlabs", errors.New("api key or voice id missing"))
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		if err := e.stream(ctx, text, pcmCh); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream")
	if err != nil {
		return "", fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *ElevenLabsClient) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	target, err := e.endpoint()
	if err != nil {
		return err
	}
	body, err := json.Marshal(speechRequest{Text: text, ModelID: e.ModelID, VoiceSettings: narratorVoice})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return svcerr.New(svcerr.KindTransport, "elevenlabs", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return svcerr.New(svcerr.KindService, "elevenlabs", fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	total := 0
	for {
		buf := make([]byte, readChunk)
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			total += n
			select {
			case pcmCh <- buf[:n]:
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(rerr, io.EOF) {
			log.Printf("elevenlabs: streamed %d bytes for %d chars", total, len(text))
			return nil
		}
		if rerr != nil {
			return svcerr.New(svcerr.KindTransport, "elevenlabs", rerr)
		}
	}
}
