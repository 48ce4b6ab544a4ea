package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/session"
	"chatd/pkg/types"
)

// Recorder is a session.EventPublisher that writes every completed
// generation to the store from a background goroutine. Turns published
// while the queue is full are dropped and logged.
type Recorder struct {
	store *Store
	log   zerolog.Logger
	ch    chan types.Turn
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts the writer goroutine. Call Close to flush and stop it.
func NewRecorder(store *Store, log zerolog.Logger) *Recorder {
	r := &Recorder{
		store: store,
		log:   log.With().Str("component", "transcript").Logger(),
		ch:    make(chan types.Turn, 64),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Publish(e session.Event) {
	if e.Name != session.EventGenerationDone {
		return
	}
	t := types.Turn{
		SessionID:    e.SessionID,
		Model:        e.ModelID,
		User:         stringField(e.Fields, "user"),
		Assistant:    stringField(e.Fields, "assistant"),
		FinishReason: stringField(e.Fields, "finish_reason"),
		CreatedUnix:  e.Time.Unix(),
	}
	if e.Time.IsZero() {
		t.CreatedUnix = time.Now().Unix()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- t:
	default:
		r.log.Warn().Str("session", t.SessionID).Msg("transcript queue full, turn dropped")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for t := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.store.Append(ctx, t); err != nil {
			r.log.Error().Err(err).Msg("transcript append failed")
		}
		cancel()
	}
}

// Close flushes queued turns and stops the writer. The store stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
