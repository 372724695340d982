package core

// StreamStats holds ephemeral counters about an emitted stream. It is never
// persisted.
type StreamStats struct {
	PartsEmitted int    `json:"partsEmitted"`
	TextParts    int    `json:"textParts"`
	LastFragment string `json:"lastFragment,omitempty"`
}

// Observe records one emitted event.
func (s *StreamStats) Observe(ev Event) {
	switch ev.Type {
	case EventTextDelta:
		s.PartsEmitted++
		s.TextParts++
		s.LastFragment = ev.Delta
	case EventReasoningDelta, EventToolCall, EventToolResult:
		s.PartsEmitted++
	}
}
