// Package enginetest provides a fake llama.cpp server for tests that drive
// the server backend end to end.
package enginetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"chatd/internal/engine"
)

// Server is an httptest server speaking the subset of the llama.cpp
// OpenAI-compatible API the server backend uses.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	reply    []string
	healthy  bool
	requests [][]engine.Message
}

// New starts a healthy server whose completions stream reply as deltas.
// The caller must Close it.
func New(reply ...string) *Server {
	s := &Server{reply: reply, healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", s.models)
	mux.HandleFunc("/v1/chat/completions", s.completions)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetHealthy toggles the /v1/models health answer.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	s.mu.Unlock()
}

// SetReply replaces the deltas streamed by later completions.
func (s *Server) SetReply(reply ...string) {
	s.mu.Lock()
	s.reply = reply
	s.mu.Unlock()
}

// Requests returns the message lists of every completion request so far.
func (s *Server) Requests() [][]engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]engine.Message(nil), s.requests...)
}

func (s *Server) models(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ok := s.healthy
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
}

func (s *Server) completions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Messages []engine.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, body.Messages)
	reply := append([]string(nil), s.reply...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	fl, _ := w.(http.Flusher)
	send := func(v any) {
		b, _ := json.Marshal(v)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
		if fl != nil {
			fl.Flush()
		}
	}
	for _, d := range reply {
		send(map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"role": "assistant", "content": d}}}})
	}
	send(map[string]any{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}})
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if fl != nil {
		fl.Flush()
	}
}
