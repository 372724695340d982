package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hupe1980/agentstream"
	"github.com/hupe1980/agentstream/core"
)

// streamSSE writes the events of one turn as server-sent events. Closing the
// connection cancels the request context, which aborts the turn.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req agentstream.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	events, err := s.engine.Stream(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	seq := 0
	broken := false
	for ev := range events {
		// keep draining after a write failure so the turn can settle
		if broken {
			continue
		}
		seq++
		if err := writeSSE(w, seq, ev); err != nil {
			s.opts.Logger.Debug("server.sse.write_failed", "turn_id", ev.TurnID, "error", err)
			broken = true
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, seq int, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, data)
	return err
}
