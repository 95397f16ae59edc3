package rtc

import (
	"context"
	"errors"
	"log"
	"math"
	"strings"
	"time"

	"github.com/chadiek/snap-narrator/internal/narration"
	"github.com/pion/webrtc/v3"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Handler negotiates narration peers. Each connected peer becomes the gate's
// audio sink until it disconnects.
type Handler struct {
	gate           *narration.Gate
	iceServersJSON string
}

func NewHandler(gate *narration.Gate, iceServersJSON string) *Handler {
	return &Handler{gate: gate, iceServersJSON: iceServersJSON}
}

// HandleOffer accepts an SDP offer and returns an SDP answer once ICE gathering completes.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	pc, outTrack, err := h.createPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	callID := generateCallID()
	if err := h.attachNarration(callID, pc, outTrack); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// attachNarration creates the paced writer for outTrack and installs it as the
// gate sink while the peer is connected. A "control" data channel accepts stop commands.
func (h *Handler) attachNarration(callID string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) error {
	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		return err
	}

	installed := false
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if installed {
				return
			}
			installed = true
			h.gate.SetSink(paced)
			writeTone(paced, 440, 200*time.Millisecond)
			log.Printf("[%s] narration audio attached", callID)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.gate.ReleaseSink(paced)
			// allow queued frames to drain before closing
			time.AfterFunc(400*time.Millisecond, func() { paced.Close() })
			_ = pc.Close()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, state.String())
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", callID)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if isStopCommand(string(msg.Data)) {
				log.Printf("[%s] stop requested over control channel", callID)
				h.gate.Stop()
			}
		})
	})
	// Browsers may offer a microphone; it is not used.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("[%s] ignoring remote %s track", callID, remote.Kind().String())
	})
	return nil
}

func isStopCommand(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "stop", "stop-speaking", "cancel":
		return true
	}
	return false
}

// writeTone queues a short sine tone so the listener can confirm the audio path.
func writeTone(w *OpusPacedWriter, hz float64, d time.Duration) {
	samplesTotal := int(48000 * d / time.Second)
	phaseInc := 2 * math.Pi * hz / 48000.0
	pcm := make([]byte, samplesTotal*2)
	for i := 0; i < samplesTotal; i++ {
		v := uint16(int16(math.Sin(float64(i)*phaseInc) * 6000.0))
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	w.WritePCM(pcm)
	w.FlushTail()
}

func generateCallID() string { return time.Now().Format("0102150405.000") }
