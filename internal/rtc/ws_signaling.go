package rtc

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/snap-narrator/internal/middleware"
	"github.com/gorilla/websocket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the trickle-ICE signaling frame.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type string `json:"type"`
	// auth
	Password string `json:"password,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades to WebSocket and performs offer/answer plus trickle ICE signaling.
// Expected frames: auth (optional) -> offer -> candidates...
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, authPassword string) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Header or query auth first, otherwise the first frame must be type=auth.
	if !middleware.PasswordOK(r, authPassword) {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil || mt != websocket.TextMessage {
			_ = writeSignalError(conn, fmt.Errorf("auth required"))
			return
		}
		var m signalMessage
		if jerr := json.Unmarshal(data, &m); jerr != nil || strings.ToLower(m.Type) != "auth" || m.Password != authPassword {
			_ = writeSignalError(conn, fmt.Errorf("unauthorized"))
			return
		}
	}

	var offerSDP string
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			log.Printf("ws read error before offer: %v", rerr)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if strings.ToLower(m.Type) == "offer" && m.SDP != "" {
			offerSDP = m.SDP
			break
		}
		if strings.ToLower(m.Type) == "bye" {
			return
		}
	}

	pc, outTrack, err := h.createPeer()
	if err != nil {
		_ = writeSignalError(conn, err)
		return
	}
	defer func() { _ = pc.Close() }()

	callID := generateCallID()
	if err := h.attachNarration(callID, pc, outTrack); err != nil {
		_ = writeSignalError(conn, err)
		return
	}

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	send := func(m signalMessage) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := conn.WriteJSON(m); err != nil {
			log.Printf("[%s] ws write error: %v", callID, err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
			case "bye":
				return
			}
		}
	}()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		send(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		send(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		send(signalMessage{Type: "error", Error: err.Error()})
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		send(signalMessage{Type: "error", Error: "no local description"})
		return
	}
	send(signalMessage{Type: "answer", SDP: local.SDP})

	// Keep the handler alive until the socket or peer goes away.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			switch pc.ConnectionState() {
			case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
				return
			}
		}
	}
}

func writeSignalError(conn *websocket.Conn, err error) error {
	return conn.WriteJSON(signalMessage{Type: "error", Error: err.Error()})
}

// createPeer prepares a PeerConnection with default codecs and interceptors plus
// an outbound Opus track for narration.
func (h *Handler) createPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.iceServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"narration-audio", "narrator",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
