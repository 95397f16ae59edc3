package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/chadiek/snap-narrator/internal/config"
	"github.com/chadiek/snap-narrator/internal/conversation"
	"github.com/chadiek/snap-narrator/internal/middleware"
	"github.com/chadiek/snap-narrator/internal/pipeline"
	"github.com/chadiek/snap-narrator/internal/rtc"
	"github.com/chadiek/snap-narrator/internal/svcerr"
	"github.com/labstack/echo/v4"
)

// Capturer starts and reports capture runs and toggles the idle preview.
type Capturer interface {
	Trigger(ctx context.Context) (pipeline.Run, error)
	Active() (pipeline.Run, bool)
	TogglePreview(ctx context.Context) (bool, error)
}

// Chat is the conversation the API reads and posts to.
type Chat interface {
	SubmitUserMessage(ctx context.Context, text string) (conversation.Message, error)
	Messages() []conversation.Message
}

// Narration negotiates WebRTC peers for narration audio.
type Narration interface {
	HandleOffer(ctx context.Context, offer rtc.SessionDescription) (rtc.SessionDescription, error)
	ServeWebSocket(w http.ResponseWriter, r *http.Request, authPassword string)
}

type Deps struct {
	Pipeline  Capturer
	Session   Chat
	Hub       http.Handler
	Narration Narration
	// Notice, if set, tells connected browsers about rejected requests.
	Notice func(text string)
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler

	ctx  context.Context
	cfg  config.Config
	deps Deps
}

// New constructs the HTTP server with routes. Capture runs started over HTTP
// live on ctx rather than on the request.
func New(ctx context.Context, cfg config.Config, deps Deps) *Server {
	s := &Server{ctx: ctx, cfg: cfg, deps: deps}
	e := newRouter()
	// The signaling socket authenticates itself so browsers can send an auth frame.
	e.Use(middleware.PasswordAuth(func() string { return cfg.AuthPassword }, "/healthz", "/narration/ws"))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/capture", s.capture)
	e.GET("/capture", s.activeRun)
	e.POST("/preview", s.togglePreview)
	e.GET("/messages", s.listMessages)
	e.POST("/messages", s.postMessage)
	if deps.Hub != nil {
		e.GET("/ws", echo.WrapHandler(deps.Hub))
	}
	if deps.Narration != nil {
		e.POST("/narration/offer", s.offer)
		e.GET("/narration/ws", func(c echo.Context) error {
			deps.Narration.ServeWebSocket(c.Response(), c.Request(), cfg.AuthPassword)
			return nil
		})
	}
	s.Router = e
	return s
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func (s *Server) capture(c echo.Context) error {
	run, err := s.deps.Pipeline.Trigger(s.ctx)
	if errors.Is(err, pipeline.ErrRunActive) {
		if s.deps.Notice != nil {
			s.deps.Notice("A capture is already in progress.")
		}
		return errorJSON(c, http.StatusConflict, "a capture is already in progress")
	}
	if err != nil {
		log.Printf("capture trigger failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "capture failed")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run": run.ID})
}

func (s *Server) activeRun(c echo.Context) error {
	run, ok := s.deps.Pipeline.Active()
	if !ok {
		return c.JSON(http.StatusOK, map[string]any{"active": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"active": true, "run": run})
}

func (s *Server) togglePreview(c echo.Context) error {
	live, err := s.deps.Pipeline.TogglePreview(s.ctx)
	if errors.Is(err, pipeline.ErrRunActive) {
		return errorJSON(c, http.StatusConflict, "a capture is in progress")
	}
	if err != nil {
		log.Printf("preview toggle failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "preview failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"live": live})
}

func (s *Server) listMessages(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Session.Messages())
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) postMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid body")
	}
	reply, err := s.deps.Session.SubmitUserMessage(c.Request().Context(), req.Content)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, reply)
	case errors.Is(err, conversation.ErrEmptyMessage):
		return errorJSON(c, http.StatusBadRequest, "message is empty")
	default:
		return errorJSON(c, http.StatusBadGateway, UserMessage(err))
	}
}

// UserMessage turns a chat failure into text fit for the chat window.
func UserMessage(err error) string {
	if errors.Is(err, conversation.ErrEmptyMessage) {
		return "Type a message first."
	}
	switch svcerr.KindOf(err) {
	case svcerr.KindTransport:
		return "The assistant could not be reached. Please try again."
	case svcerr.KindEmpty:
		return "The assistant returned an empty reply."
	case svcerr.KindService, svcerr.KindParse:
		return "The assistant service returned an error."
	default:
		return "Sending the message failed."
	}
}

func (s *Server) offer(c echo.Context) error {
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		log.Printf("invalid offer: %v", err)
		return errorJSON(c, http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.deps.Narration.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		log.Printf("webrtc handle offer failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "offer failed")
	}
	return c.JSON(http.StatusOK, answer)
}
