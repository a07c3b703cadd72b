package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// ── SSE Writer ──

// sseWriter wraps an http.ResponseWriter with SSE event writing and
// client disconnect detection. Used by EngineHandler.HandleRun.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
}

// newSSEWriter prepares SSE headers and returns a writer.
// Returns nil if streaming is not supported.
func newSSEWriter(w http.ResponseWriter, r *http.Request) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher, ctx: r.Context()}
}

// Send writes an SSE event. Returns false if the client has disconnected.
func (s *sseWriter) Send(event string, data interface{}) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SSE] JSON marshal error: %v", err)
		return false
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, string(jsonBytes)); err != nil {
		log.Printf("[SSE] Write error (client disconnected?): %v", err)
		return false
	}
	s.flusher.Flush()
	return true
}

// ── SSE Event Types ──

// sseStepEvent mirrors one loop.AgentStep for the frontend: thinking/
// acting/observing/done/error in order, as the Engine emits them.
type sseStepEvent struct {
	Index       int            `json:"index"`
	Status      string         `json:"status"`
	Reasoning   string         `json:"reasoning,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`
	Observation string         `json:"observation,omitempty"`
	FinalAnswer string         `json:"final_answer,omitempty"`
}

type sseDoneEvent struct {
	Solution string      `json:"solution"`
	Stats    *agentStats `json:"stats,omitempty"`
}

// agentStats holds execution statistics returned in the done event.
type agentStats struct {
	Steps      int     `json:"steps"`
	ToolCalls  int     `json:"tool_calls"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	TokensUsed int     `json:"tokens_used"`
	CostUSD    float64 `json:"cost_usd"`
}
