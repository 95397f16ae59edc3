// Package hub pushes UI state to browsers over websockets and routes their
// commands and camera frames back to the server.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/snap-narrator/internal/camera"
	"github.com/chadiek/snap-narrator/internal/conversation"
	"github.com/gorilla/websocket"
)

const (
	SurfaceHidden = "hidden"
	SurfaceLive   = "live"
	SurfaceFrozen = "frozen"

	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	maxFrameSize = 8 << 20
)

// Event is one server -> browser frame. Type is "surface", "message", "stage" or "notice".
type Event struct {
	Type    string                `json:"type"`
	State   string                `json:"state,omitempty"`
	Width   int                   `json:"width,omitempty"`
	Height  int                   `json:"height,omitempty"`
	Message *conversation.Message `json:"message,omitempty"`
	Run     string                `json:"run,omitempty"`
	Stage   string                `json:"stage,omitempty"`
	Text    string                `json:"text,omitempty"`
}

// command is one browser -> server text frame.
type command struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Actions are invoked for browser commands. Any may be nil.
type Actions struct {
	Capture func() error
	// Toggle shows or hides the live feed outside a capture run.
	Toggle func() error
	Submit func(text string) error
	Frame  func(data []byte) error
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to every connected browser. A new browser first receives
// the current surface state and the full message log.
type Hub struct {
	actions Actions

	mu       sync.Mutex
	clients  map[*client]struct{}
	surface  Event
	messages []conversation.Message
}

func New(actions Actions) *Hub {
	return &Hub{
		actions: actions,
		clients: make(map[*client]struct{}),
		surface: Event{Type: "surface", State: SurfaceHidden},
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and serves one browser until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)
	h.mu.Lock()
	c := &client{conn: conn, send: make(chan Event, sendBuffer+len(h.messages)+1)}
	c.send <- h.surface
	for i := range h.messages {
		m := h.messages[i]
		c.send <- Event{Type: "message", Message: &m}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("hub: client connected (%d total)", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if h.actions.Frame != nil {
				if err := h.actions.Frame(data); err != nil {
					log.Printf("hub: frame rejected: %v", err)
				}
			}
		case websocket.TextMessage:
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				h.notify(c, "invalid command")
				continue
			}
			h.dispatch(c, cmd)
		}
	}
}

func (h *Hub) dispatch(c *client, cmd command) {
	switch strings.ToLower(cmd.Type) {
	case "capture":
		if h.actions.Capture == nil {
			return
		}
		if err := h.actions.Capture(); err != nil {
			h.notify(c, err.Error())
		}
	case "toggle":
		if h.actions.Toggle == nil {
			return
		}
		if err := h.actions.Toggle(); err != nil {
			h.notify(c, err.Error())
		}
	case "message":
		if h.actions.Submit == nil {
			return
		}
		// chat calls can take seconds; keep reading frames meanwhile
		go func(text string) {
			if err := h.actions.Submit(text); err != nil {
				h.notify(c, err.Error())
			}
		}(cmd.Content)
	default:
		h.notify(c, "unknown command "+cmd.Type)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			log.Printf("hub: write error: %v", err)
			h.remove(c)
			// keep draining until remove closes the channel
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	log.Printf("hub: client disconnected (%d left)", len(h.clients))
}

// notify sends a notice to one browser.
func (h *Hub) notify(c *client, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, Event{Type: "notice", Text: text})
	}
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(ev)
}

func (h *Hub) broadcastLocked(ev Event) {
	for c := range h.clients {
		h.enqueueLocked(c, ev)
	}
}

// enqueueLocked drops a client whose buffer is full rather than block the sender.
func (h *Hub) enqueueLocked(c *client, ev Event) {
	select {
	case c.send <- ev:
	default:
		log.Printf("hub: dropping slow client")
		delete(h.clients, c)
		close(c.send)
	}
}

// PublishMessage records m and forwards it to every browser. It is meant to be
// passed to conversation.Session.Subscribe.
func (h *Hub) PublishMessage(m conversation.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	h.broadcastLocked(Event{Type: "message", Message: &m})
}

// PublishStage announces a pipeline stage transition.
func (h *Hub) PublishStage(runID, stage string) {
	h.broadcast(Event{Type: "stage", Run: runID, Stage: stage})
}

// Notice sends a transient message to every browser.
func (h *Hub) Notice(text string) {
	h.broadcast(Event{Type: "notice", Text: text})
}

// Messages returns the log as seen by the hub.
func (h *Hub) Messages() []conversation.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]conversation.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Surface returns the current surface state.
func (h *Hub) Surface() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surface
}

func (h *Hub) setSurface(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.surface = ev
	h.broadcastLocked(ev)
}

func (h *Hub) Hide() { h.setSurface(Event{Type: "surface", State: SurfaceHidden}) }

func (h *Hub) ShowLive() { h.setSurface(Event{Type: "surface", State: SurfaceLive}) }

func (h *Hub) ShowFrozen(frame camera.Frame) {
	h.setSurface(Event{Type: "surface", State: SurfaceFrozen, Width: frame.Width, Height: frame.Height})
}
