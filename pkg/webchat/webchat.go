// Package webchat serves the browser front end: a static chat page, a JSON
// endpoint that runs one prompt per request, and a WebSocket that streams
// agent activity while a prompt runs.
package webchat

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/germanamz/netpilot/pkg/engine"
	"github.com/yuin/goldmark"
)

//go:embed static/index.html
var staticFS embed.FS

// Backend creates and finds chat sessions. *engine.Engine implements it.
type Backend interface {
	NewSession(agentName string) (*engine.Session, error)
	Session(id string) (*engine.Session, bool)
	Events() *engine.EventBus
}

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// Agent names the agent new sessions run; empty selects the entry agent.
	Agent string
	// Timeout bounds one prompt. Zero means no limit beyond the request.
	Timeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	backend Backend
	opts    Options
	log     *slog.Logger
}

// New creates a Server.
func New(backend Backend, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Server{backend: backend, opts: opts, log: log.With("component", "webchat")}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the reply of POST /chat. Error is set alone on failure.
type ChatResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Result    string `json:"result,omitempty"`
	HTML      string `json:"html,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: "invalid request body"})
		return
	}

	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Error: "Please enter a non-empty prompt."})
		return
	}

	sess, status, err := s.session(req.SessionID)
	if err != nil {
		writeJSON(w, status, ChatResponse{Error: err.Error()})
		return
	}

	s.log.Info("chat request received", "session", sess.ID())

	result, err := s.run(r.Context(), sess, req.Prompt)
	if err != nil {
		s.log.Error("error processing prompt", "session", sess.ID(), "error", err)
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: sess.ID(),
		Result:    result,
		HTML:      s.render(result),
	})
}

var errUnknownSession = errors.New("unknown session")

// session returns the session named id, or a new one when id is empty.
func (s *Server) session(id string) (*engine.Session, int, error) {
	if id == "" {
		sess, err := s.backend.NewSession(s.opts.Agent)
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return sess, http.StatusOK, nil
	}

	sess, ok := s.backend.Session(id)
	if !ok {
		return nil, http.StatusNotFound, errUnknownSession
	}
	return sess, http.StatusOK, nil
}

func (s *Server) run(ctx context.Context, sess *engine.Session, prompt string) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	reply, err := sess.Send(ctx, prompt)
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}

// Frame is one WebSocket message from the server.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Result    string `json:"result,omitempty"`
	HTML      string `json:"html,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Frame types.
const (
	FrameSession       = "session"
	FrameToolCallStart = "tool_call_start"
	FrameToolCallEnd   = "tool_call_end"
	FrameResult        = "result"
	FrameError         = "error"
)

type wsPrompt struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, status, err := s.session(r.URL.Query().Get("session_id"))
	if err != nil {
		writeJSON(w, status, ChatResponse{Error: err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()

	sub := s.backend.Events().SubscribeSession(sess.ID(), 64)
	defer func() {
		s.backend.Events().Unsubscribe(sub)
		if n := sub.Dropped(); n > 0 {
			s.log.Warn("websocket client missed events", "session", sess.ID(), "dropped", n)
		}
	}()

	go s.forward(ctx, conn, sub)

	if err := wsjson.Write(ctx, conn, Frame{Type: FrameSession, SessionID: sess.ID()}); err != nil {
		return
	}

	for {
		var in wsPrompt
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.log.Debug("websocket closed", "session", sess.ID(), "error", err)
			}
			return
		}

		if strings.TrimSpace(in.Prompt) == "" {
			_ = wsjson.Write(ctx, conn, Frame{Type: FrameError, Error: "Please enter a non-empty prompt."})
			continue
		}

		result, err := s.run(ctx, sess, in.Prompt)
		frame := Frame{Type: FrameResult, SessionID: sess.ID(), Result: result, HTML: s.render(result)}
		if err != nil {
			s.log.Error("error processing prompt", "session", sess.ID(), "error", err)
			frame = Frame{Type: FrameError, SessionID: sess.ID(), Error: err.Error()}
		}

		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return
		}
	}
}

// forward streams tool events until the subscription closes or ctx ends.
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, sub *engine.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			frame, ok := toolFrame(ev)
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		}
	}
}

func toolFrame(ev engine.Event) (Frame, bool) {
	data, ok := ev.Data.(engine.ToolCallData)
	if !ok {
		return Frame{}, false
	}

	switch ev.Kind {
	case engine.EventToolCallStart:
		return Frame{Type: FrameToolCallStart, SessionID: ev.SessionID, Tool: data.Call.Name, Arguments: data.Call.Arguments}, true
	case engine.EventToolCallEnd:
		f := Frame{Type: FrameToolCallEnd, SessionID: ev.SessionID, Tool: data.Call.Name}
		if data.Result != nil {
			f.IsError = data.Result.IsError
		}
		return f, true
	default:
		return Frame{}, false
	}
}

// render converts a markdown answer to HTML. Raw HTML in the answer is
// dropped by goldmark's default renderer.
func (s *Server) render(md string) string {
	html, err := Render(md)
	if err != nil {
		s.log.Error("failed to convert markdown", "error", err)
		return ""
	}
	return html
}

// Render converts markdown to HTML.
func Render(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
