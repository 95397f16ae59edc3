package rtc

import (
	"context"
	"testing"

	"github.com/chadiek/snap-narrator/internal/narration"
)

func TestHandleOffer_RejectsInvalidOffer(t *testing.T) {
	h := NewHandler(narration.NewGate(nil, nil), "")
	if _, err := h.HandleOffer(context.Background(), SessionDescription{Type: "answer", SDP: "x"}); err == nil {
		t.Fatalf("expected error for non-offer")
	}
	if _, err := h.HandleOffer(context.Background(), SessionDescription{Type: "offer"}); err == nil {
		t.Fatalf("expected error for empty sdp")
	}
}

func TestParseICEServers(t *testing.T) {
	got := parseICEServers(`[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}]`)
	if len(got) != 1 || got[0].URLs[0] != "turn:turn.example.com:3478" || got[0].Username != "u" {
		t.Fatalf("unexpected servers: %+v", got)
	}
	for _, in := range []string{"", "not json", "[]"} {
		got := parseICEServers(in)
		if len(got) != 1 || got[0].URLs[0] != "stun:stun.l.google.com:19302" {
			t.Fatalf("expected default stun for %q, got %+v", in, got)
		}
	}
}

func TestIsStopCommand(t *testing.T) {
	for _, s := range []string{"stop", " STOP\n", "cancel", "stop-speaking"} {
		if !isStopCommand(s) {
			t.Fatalf("expected %q to be a stop command", s)
		}
	}
	if isStopCommand("play") {
		t.Fatalf("play is not a stop command")
	}
}
