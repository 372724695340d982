// Package server exposes an Engine over HTTP.
//
// Routes (all under /v1 require a bearer token when a Verifier is set):
//
//	POST /v1/conversations                   create a conversation
//	GET  /v1/conversations/{id}/messages     stored history
//	POST /v1/conversations/{id}/messages     run a turn (SSE when streaming, JSON otherwise)
//	GET  /v1/conversations/{id}/ws           run turns over a websocket
//	GET  /healthz                            liveness
//	GET  /metrics                            Prometheus metrics, when configured
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/auth"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
)

const maxRequestBytes = 1 << 20

// Options configures a Server.
type Options struct {
	// Verifier authenticates /v1 requests; nil disables authentication.
	Verifier auth.Verifier
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler    http.Handler
	Logger            logging.Logger
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// CheckOrigin overrides the websocket origin check.
	CheckOrigin func(r *http.Request) bool
}

// Server serves one Engine.
type Server struct {
	engine   *agentstream.Engine
	opts     Options
	handler  http.Handler
	upgrader websocket.Upgrader
}

// New creates a Server for engine.
func New(engine *agentstream.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		engine: engine,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	api.HandleFunc("GET /v1/conversations/{id}/messages", s.handleHistory)
	api.HandleFunc("POST /v1/conversations/{id}/messages", s.handleSend)
	api.HandleFunc("GET /v1/conversations/{id}/ws", s.handleWebSocket)

	mux := http.NewServeMux()
	mux.Handle("/v1/", auth.Middleware(s.opts.Verifier, s.opts.Logger)(api))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("server.shutdown", "addr", addr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

type createConversationRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// sendRequest is the body of a turn. Either Message or Text carries the
// user input.
type sendRequest struct {
	Message  *core.Message `json:"message,omitempty"`
	Text     string        `json:"text,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
	Tools    []string      `json:"tools,omitempty"`
	MaxSteps int           `json:"maxSteps,omitempty"`
}

func (r sendRequest) userMessage() (core.Message, error) {
	if r.Message != nil {
		msg := r.Message.Clone()
		if msg.Role == "" {
			msg.Role = core.RoleUser
		}
		if msg.Role != core.RoleUser {
			return core.Message{}, fmt.Errorf("message role must be user")
		}
		if len(msg.Parts) == 0 {
			return core.Message{}, fmt.Errorf("message has no parts")
		}
		return msg, nil
	}
	if strings.TrimSpace(r.Text) == "" {
		return core.Message{}, fmt.Errorf("text or message is required")
	}
	return core.NewUserText(r.Text), nil
}

type turnResponse struct {
	TurnID   string         `json:"turnId"`
	Status   core.EventType `json:"status"`
	Messages []core.Message `json:"messages"`
	Usage    core.Usage     `json:"usage"`
	Steps    int            `json:"steps"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body createConversationRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	info := core.ConversationInfo{ID: body.ID, UserID: userID(r), Title: body.Title}
	if info.ID == "" {
		info.ID = core.NewID()
	}
	if existing, err := s.engine.Conversation(r.Context(), info.ID); err == nil {
		if !owns(r, existing) {
			writeError(w, http.StatusConflict, fmt.Errorf("conversation %s already exists", info.ID))
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}

	if err := s.engine.CreateConversation(r.Context(), info); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	created, err := s.engine.Conversation(r.Context(), info.ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	info, ok := s.conversation(w, r)
	if !ok {
		return
	}
	history, err := s.engine.History(r.Context(), info.ID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": info.ID, "messages": history})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	info, ok := s.conversation(w, r)
	if !ok {
		return
	}

	var body sendRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := body.userMessage()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := agentstream.Request{
		ConversationID: info.ID,
		UserID:         userID(r),
		Message:        msg,
		Tools:          body.Tools,
		MaxSteps:       body.MaxSteps,
	}

	if body.Stream || r.URL.Query().Get("stream") == "true" || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamSSE(w, r, req)
		return
	}

	res, err := s.engine.Generate(r.Context(), req)
	if err != nil && res == nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := turnResponse{
		TurnID:   res.Terminal.TurnID,
		Status:   res.Terminal.Type,
		Messages: res.Messages,
		Usage:    res.Usage,
		Steps:    res.Steps,
		Error:    res.Terminal.Error,
	}
	if resp.Messages == nil {
		resp.Messages = []core.Message{}
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// conversation loads the conversation of the request path and enforces
// ownership. Conversations of other users are reported as not found.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*core.ConversationInfo, bool) {
	id := r.PathValue("id")
	info, err := s.engine.Conversation(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return nil, false
	}
	if !owns(r, info) {
		s.opts.Logger.Warn("server.conversation.forbidden", "conversation_id", id, "user_id", userID(r))
		writeError(w, http.StatusNotFound, core.ErrConversationNotFound)
		return nil, false
	}
	return info, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *core.ValidationError
		ce *core.ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid conversation structure", "violations": ve.Violations})
	case errors.Is(err, core.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful can be written
	case errors.As(err, &ce):
		s.opts.Logger.Error("server.request.misconfigured", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("server misconfigured"))
	default:
		s.opts.Logger.Error("server.request.error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func userID(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return id.UserID
	}
	return ""
}

func owns(r *http.Request, info *core.ConversationInfo) bool {
	uid := userID(r)
	return uid == "" || info.UserID == "" || info.UserID == uid
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
