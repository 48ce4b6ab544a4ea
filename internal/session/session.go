package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// Entry is one message in the conversation log.
type Entry struct {
	Role    engine.Role `json:"role"`
	Content string      `json:"content"`
}

// StatusColor classifies the status label for display.
type StatusColor string

const (
	StatusSuccess StatusColor = "success"
	StatusWarning StatusColor = "warning"
	StatusNeutral StatusColor = "neutral"
)

// Status is the derived display status of a session.
type Status struct {
	Label string      `json:"label"`
	Color StatusColor `json:"color"`
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	SessionID      string                 `json:"session_id"`
	RequestedModel string                 `json:"requested_model,omitempty"`
	LoadingModel   string                 `json:"loading_model,omitempty"`
	LoadedModel    string                 `json:"loaded_model,omitempty"`
	PendingModel   string                 `json:"pending_model,omitempty"`
	Ready          bool                   `json:"ready"`
	Loading        bool                   `json:"loading"`
	Generating     bool                   `json:"generating"`
	Status         Status                 `json:"status"`
	Progress       *engine.ProgressReport `json:"progress,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Conversation   []Entry                `json:"conversation"`
}

// Config configures a Session.
type Config struct {
	Factory engine.Factory
	// DefaultModel is the initially requested model; nothing is loaded until Load.
	DefaultModel string
	Publisher    EventPublisher
	Logger       *zerolog.Logger
}

// Session owns the engine lifecycle and conversation of one chat. It is safe
// for concurrent use.
type Session struct {
	id        string
	factory   engine.Factory
	publisher EventPublisher
	log       zerolog.Logger

	// ctx is cancelled by Close and aborts background follow-up loads.
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu        sync.Mutex
	requested string
	loading   string
	loaded    string
	pending   string
	targetSeq uint64 // bumped on every effective RequestModel
	eng       engine.Engine
	progress  *engine.ProgressReport
	errMsg    string
	convo     []Entry
	gen       *generation // nil when idle
	genSeq    uint64
	closed    bool
}

// New returns a Session with cfg.DefaultModel requested and nothing loaded.
func New(cfg Config) *Session {
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		factory:   cfg.Factory,
		publisher: pub,
		log:       log.With().Str("session", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		requested: cfg.DefaultModel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// readyLocked reports whether an engine is committed. Callers hold s.mu.
func (s *Session) readyLocked() bool { return s.eng != nil }

// Ready reports whether messages can be sent.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Session) statusLocked() Status {
	switch {
	case s.readyLocked():
		return Status{Label: "Ready", Color: StatusSuccess}
	case s.loading != "":
		return Status{Label: "Loading model", Color: StatusWarning}
	default:
		return Status{Label: "Not loaded", Color: StatusNeutral}
	}
}

// Status returns the derived status label and color.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:      s.id,
		RequestedModel: s.requested,
		LoadingModel:   s.loading,
		LoadedModel:    s.loaded,
		PendingModel:   s.pending,
		Ready:          s.readyLocked(),
		Loading:        s.loading != "",
		Generating:     s.gen != nil,
		Status:         s.statusLocked(),
		Error:          s.errMsg,
		Conversation:   make([]Entry, len(s.convo)),
	}
	copy(snap.Conversation, s.convo)
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	return snap
}

// Close releases the committed engine and waits for background work until
// ctx expires. Unload failures are logged, never returned.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	eng, id := s.eng, s.loaded
	s.eng, s.loaded = nil, ""
	s.mu.Unlock()

	s.cancel()
	if eng != nil {
		s.unload(ctx, id, eng)
	}
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Err(ctx.Err()).Msg("close: background work still running")
	}
}

// detach runs fn in a goroutine tracked by Close.
func (s *Session) detach(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// unload releases eng best-effort.
func (s *Session) unload(ctx context.Context, modelID string, eng engine.Engine) {
	if err := eng.Unload(ctx); err != nil {
		unloadErrorsTotal.Inc()
		s.emit(zerolog.WarnLevel, EventUnloadError, modelID, map[string]any{"error": err.Error()})
	}
}

// unloadDetached releases eng in the background without blocking the caller.
func (s *Session) unloadDetached(modelID string, eng engine.Engine) {
	s.detach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.unload(ctx, modelID, eng)
	})
}

// emit logs and publishes an event. It must be called without s.mu held.
func (s *Session) emit(lvl zerolog.Level, name, modelID string, fields map[string]any) {
	ev := s.log.WithLevel(lvl).Str("event", name)
	if modelID != "" {
		ev = ev.Str("model", modelID)
	}
	ev.Fields(fields).Msg("session event")
	s.publisher.Publish(Event{Name: name, SessionID: s.id, ModelID: modelID, Time: time.Now(), Fields: fields})
}
