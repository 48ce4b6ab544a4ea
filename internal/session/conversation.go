package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// generation is the token of one in-flight SendMessage. It stays live while
// s.gen points at it; RequestModel drops it.
type generation struct {
	seq     uint64
	id      string
	modelID string
	engine  engine.Engine
	index   int // position of the assistant placeholder, -1 before it exists
}

// Turn holds the optional callbacks of one Send.
type Turn struct {
	// OnStart runs once the generation is registered, before the stream is
	// opened. interrupt stops this generation only and reports whether it
	// was still running.
	OnStart func(interrupt func() bool)
	// OnDelta receives every non-empty text delta in order.
	OnDelta func(string)
}

// SendMessage appends a user message, streams the assistant reply into the
// conversation and returns its final text. onDelta, when non-nil, receives
// every non-empty text delta in order.
//
// It returns ErrNotReady when no engine is committed, and ("", nil) when a
// generation is already running or text is blank. On a stream failure the
// placeholder is removed, the error recorded and a generation failure
// returned. A generation superseded by RequestModel leaves no trace.
func (s *Session) SendMessage(ctx context.Context, text string, onDelta func(string)) (string, error) {
	content, _, err := s.Send(ctx, text, Turn{OnDelta: onDelta})
	return content, err
}

// Send is SendMessage with start notification. started is false when the
// message was not accepted: no engine, another generation running or blank
// text.
func (s *Session) Send(ctx context.Context, text string, turn Turn) (content string, started bool, err error) {
	s.mu.Lock()
	if !s.readyLocked() {
		s.mu.Unlock()
		return "", false, ErrNotReady
	}
	if s.gen != nil {
		s.mu.Unlock()
		return "", false, nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.mu.Unlock()
		return "", false, nil
	}
	s.convo = append(s.convo, Entry{Role: engine.RoleUser, Content: trimmed})
	s.errMsg = ""
	s.genSeq++
	g := &generation{seq: s.genSeq, id: uuid.NewString(), modelID: s.loaded, engine: s.eng, index: -1}
	s.gen = g
	payload := make([]engine.Message, len(s.convo))
	for i, e := range s.convo {
		payload[i] = engine.Message{Role: e.Role, Content: e.Content}
	}
	s.mu.Unlock()

	generating.Inc()
	defer generating.Dec()
	defer s.finish(g)
	s.emit(zerolog.InfoLevel, EventGenerationStart, g.modelID, map[string]any{"generation_id": g.id, "seq": g.seq, "messages": len(payload)})
	if turn.OnStart != nil {
		turn.OnStart(func() bool { return s.interruptGen(g) })
	}

	stream, err := g.engine.StreamCompletion(ctx, payload)
	if err != nil {
		return "", true, s.fail(g, err)
	}
	defer stream.Close()

	s.mu.Lock()
	if s.gen == g {
		s.convo = append(s.convo, Entry{Role: engine.RoleAssistant})
		g.index = len(s.convo) - 1
	}
	s.mu.Unlock()

	var acc strings.Builder
	finish := ""
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", true, s.fail(g, err)
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		delta := ExtractText(chunk.Delta.Content)
		if delta == "" {
			continue
		}
		deltasTotal.Inc()
		acc.WriteString(delta)
		s.mu.Lock()
		if s.gen == g && g.index >= 0 && g.index < len(s.convo) {
			s.convo[g.index].Content += delta
		}
		s.mu.Unlock()
		if turn.OnDelta != nil {
			turn.OnDelta(delta)
		}
	}

	content = acc.String()
	s.mu.Lock()
	live := s.gen == g
	s.mu.Unlock()
	generationsTotal.WithLabelValues("done").Inc()
	if live {
		s.emit(zerolog.InfoLevel, EventGenerationDone, g.modelID, map[string]any{
			"generation_id": g.id,
			"user":          trimmed,
			"assistant":     content,
			"finish_reason": finish,
		})
	}
	return content, true, nil
}

// fail rolls back the placeholder of a live generation and records err.
func (s *Session) fail(g *generation, err error) error {
	s.mu.Lock()
	live := s.gen == g
	if live {
		s.errMsg = genFailedPrefix + err.Error()
		if g.index >= 0 && g.index < len(s.convo) {
			s.convo = append(s.convo[:g.index], s.convo[g.index+1:]...)
		}
		g.index = -1
	}
	s.mu.Unlock()
	generationsTotal.WithLabelValues("failed").Inc()
	if live {
		s.emit(zerolog.WarnLevel, EventGenerationFailed, g.modelID, map[string]any{"generation_id": g.id, "error": err.Error()})
	}
	return generationError{err: err}
}

// finish clears the generating flag if g is still the live generation.
func (s *Session) finish(g *generation) {
	s.mu.Lock()
	if s.gen == g {
		s.gen = nil
	}
	s.mu.Unlock()
}

// Interrupt asks the engine to stop the running generation. The stream ends
// through its normal completion path. It reports whether a generation was
// running; engine errors are logged.
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	g := s.gen
	s.mu.Unlock()
	if g == nil {
		return false
	}
	return s.interruptGen(g)
}

// interruptGen interrupts g only while it is still the live generation.
func (s *Session) interruptGen(g *generation) bool {
	s.mu.Lock()
	live := s.gen == g
	s.mu.Unlock()
	if !live {
		return false
	}
	if err := g.engine.InterruptGeneration(); err != nil {
		s.log.Warn().Err(err).Str("generation_id", g.id).Msg("interrupt failed")
	}
	s.emit(zerolog.InfoLevel, EventGenerationInterrupted, g.modelID, map[string]any{"generation_id": g.id})
	return true
}

// Reset clears the conversation. A running generation keeps streaming but
// its writes no longer land in the log.
func (s *Session) Reset() {
	s.mu.Lock()
	s.convo = nil
	model := s.loaded
	s.mu.Unlock()
	s.emit(zerolog.InfoLevel, EventConversationReset, model, nil)
}

// ExtractText returns the text carried by a delta content value: a plain
// string, or an array whose parts are strings or objects with a string
// "text" field. Anything else yields "".
func ExtractText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []string:
		return strings.Join(c, "")
	case []engine.ContentPart:
		var b strings.Builder
		for _, p := range c {
			b.WriteString(p.Text)
		}
		return b.String()
	case json.RawMessage:
		var v any
		if err := json.Unmarshal(c, &v); err != nil {
			return ""
		}
		return ExtractText(v)
	case []any:
		var b strings.Builder
		for _, part := range c {
			switch p := part.(type) {
			case string:
				b.WriteString(p)
			case map[string]any:
				if t, ok := p["text"].(string); ok {
					b.WriteString(t)
				}
			case engine.ContentPart:
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}
