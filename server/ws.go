package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/core"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsFrame is one websocket message in either direction.
//
// Client frames: {"type":"send","id":"r1","params":{...sendRequest}},
// {"type":"abort"} and {"type":"ping"}. Server frames: "event" (payload is a
// core.Event), "error", "pong".
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	info   *core.ConversationInfo
	userID string
	send   chan wsFrame
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	turnCancel context.CancelFunc
	turnGen    int
	turns      sync.WaitGroup
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	info, ok := s.conversation(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Debug("server.ws.upgrade_failed", "error", err)
		return
	}

	// the upgraded connection outlives the handler's request context
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	session := &wsSession{
		server: s,
		conn:   conn,
		info:   info,
		userID: userID(r),
		send:   make(chan wsFrame, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	session.run()
}

func (ws *wsSession) run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.writeLoop()
	}()
	ws.readLoop()

	ws.abortTurn()
	ws.turns.Wait()
	close(ws.send)
	<-done
	ws.cancel()
	_ = ws.conn.Close()
}

func (ws *wsSession) readLoop() {
	ws.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ws.sendError("", fmt.Errorf("invalid frame: %w", err))
			continue
		}
		switch frame.Type {
		case "send":
			ws.startTurn(frame)
		case "abort":
			ws.abortTurn()
		case "ping":
			ws.send <- wsFrame{Type: "pong", ID: frame.ID}
		default:
			ws.sendError(frame.ID, fmt.Errorf("unknown frame type %q", frame.Type))
		}
	}
}

// writeLoop is the only writer of the connection.
func (ws *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	failed := false
	for {
		select {
		case frame, ok := <-ws.send:
			if !ok {
				return
			}
			if failed {
				continue
			}
			_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.conn.WriteJSON(frame); err != nil {
				// keep draining so producers never block
				failed = true
				_ = ws.conn.Close()
			}
		case <-ticker.C:
			if failed {
				continue
			}
			_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				_ = ws.conn.Close()
			}
		}
	}
}

// startTurn runs one turn. Only one turn runs at a time per connection.
func (ws *wsSession) startTurn(frame wsFrame) {
	var body sendRequest
	if err := json.Unmarshal(frame.Params, &body); err != nil {
		ws.sendError(frame.ID, fmt.Errorf("invalid params: %w", err))
		return
	}
	msg, err := body.userMessage()
	if err != nil {
		ws.sendError(frame.ID, err)
		return
	}

	ws.mu.Lock()
	if ws.turnCancel != nil {
		ws.mu.Unlock()
		ws.sendError(frame.ID, fmt.Errorf("a turn is already running"))
		return
	}
	ctx, cancel := context.WithCancel(ws.ctx)
	ws.turnCancel = cancel
	ws.turnGen++
	gen := ws.turnGen
	ws.mu.Unlock()

	events, err := ws.server.engine.Stream(ctx, agentstream.Request{
		ConversationID: ws.info.ID,
		UserID:         ws.userID,
		Message:        msg,
		Tools:          body.Tools,
		MaxSteps:       body.MaxSteps,
	})
	if err != nil {
		ws.finishTurn(gen)
		ws.sendError(frame.ID, err)
		return
	}

	ws.turns.Add(1)
	go func() {
		defer ws.turns.Done()
		defer ws.finishTurn(gen)
		for ev := range events {
			if ev.IsTerminal() {
				// the turn is persisted; the next send may start
				ws.finishTurn(gen)
			}
			ws.send <- wsFrame{Type: "event", ID: frame.ID, Payload: ev}
		}
	}()
}

func (ws *wsSession) abortTurn() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.turnCancel != nil {
		ws.turnCancel()
	}
}

func (ws *wsSession) finishTurn(gen int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.turnCancel != nil && ws.turnGen == gen {
		ws.turnCancel()
		ws.turnCancel = nil
	}
}

func (ws *wsSession) sendError(id string, err error) {
	ws.server.opts.Logger.Debug("server.ws.error", "conversation_id", ws.info.ID, "error", err)
	frame := wsFrame{Type: "error", ID: id, Error: err.Error()}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		frame.Payload = ve.Violations
	}
	ws.send <- frame
}
