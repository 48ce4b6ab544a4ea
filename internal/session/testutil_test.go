package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"chatd/internal/engine"
)

// streamItem is one scripted Recv result.
type streamItem struct {
	chunk engine.Chunk
	err   error
}

func textItem(s string) streamItem {
	return streamItem{chunk: engine.Chunk{Delta: engine.Delta{Role: engine.RoleAssistant, Content: s}}}
}

func errItem(msg string) streamItem { return streamItem{err: errors.New(msg)} }

// fakeStream yields items until the channel is closed or it is interrupted.
type fakeStream struct {
	items           chan streamItem
	interrupted     chan struct{}
	ignoreInterrupt bool
	once            sync.Once
	closeOnce       sync.Once
	closed          chan struct{}
}

func (s *fakeStream) Recv() (engine.Chunk, error) {
	if s.ignoreInterrupt {
		it, ok := <-s.items
		if !ok {
			return engine.Chunk{}, io.EOF
		}
		return it.chunk, it.err
	}
	select {
	case it, ok := <-s.items:
		if !ok {
			return engine.Chunk{}, io.EOF
		}
		return it.chunk, it.err
	case <-s.interrupted:
		return engine.Chunk{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) interrupt() { s.once.Do(func() { close(s.interrupted) }) }

// fakeEngine records calls and hands out fake streams.
type fakeEngine struct {
	id              string
	script          []streamItem // played and closed unless hold is set
	hold            bool
	ignoreInterrupt bool
	openErr         error
	unloadErr       error
	opened          chan *fakeStream

	mu         sync.Mutex
	payloads   [][]engine.Message
	cur        *fakeStream
	interrupts int
	unloads    int
}

func (e *fakeEngine) StreamCompletion(ctx context.Context, messages []engine.Message) (engine.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, append([]engine.Message(nil), messages...))
	if e.openErr != nil {
		return nil, e.openErr
	}
	s := &fakeStream{
		items:           make(chan streamItem, 16),
		interrupted:     make(chan struct{}),
		closed:          make(chan struct{}),
		ignoreInterrupt: e.ignoreInterrupt,
	}
	if !e.hold {
		for _, it := range e.script {
			s.items <- it
		}
		close(s.items)
	}
	e.cur = s
	select {
	case e.opened <- s:
	default:
	}
	return s, nil
}

func (e *fakeEngine) InterruptGeneration() error {
	e.mu.Lock()
	e.interrupts++
	s := e.cur
	e.mu.Unlock()
	if s != nil {
		s.interrupt()
	}
	return nil
}

func (e *fakeEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unloads++
	return e.unloadErr
}

func (e *fakeEngine) counts() (interrupts, unloads int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interrupts, e.unloads
}

func (e *fakeEngine) lastPayload() []engine.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.payloads) == 0 {
		return nil
	}
	return e.payloads[len(e.payloads)-1]
}

// fakeFactory creates fake engines. A gate blocks Create for that model
// until closed; an error makes Create fail after the gate.
type fakeFactory struct {
	mu        sync.Mutex
	calls     []string
	gates     map[string]chan struct{}
	errs      map[string]error
	engines   map[string][]*fakeEngine
	configure func(*fakeEngine)
	started   chan string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		gates:   map[string]chan struct{}{},
		errs:    map[string]error{},
		engines: map[string][]*fakeEngine{},
		started: make(chan string, 16),
	}
}

func (f *fakeFactory) Create(ctx context.Context, id string, onProgress func(engine.ProgressReport)) (engine.Engine, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	gate, err := f.gates[id], f.errs[id]
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(engine.ProgressReport{Progress: 0.5, Text: "loading " + id})
	}
	f.started <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	e := &fakeEngine{id: id, opened: make(chan *fakeStream, 8)}
	if f.configure != nil {
		f.configure(e)
	}
	f.mu.Lock()
	f.engines[id] = append(f.engines[id], e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeFactory) gate(id string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeFactory) setErr(id string, err error) {
	f.mu.Lock()
	f.errs[id] = err
	f.mu.Unlock()
}

func (f *fakeFactory) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFactory) engine(id string, i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.engines[id]) {
		return nil
	}
	return f.engines[id][i]
}

func (f *fakeFactory) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-f.started:
		if got != want {
			t.Fatalf("expected Create(%q), got Create(%q)", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Create(%q)", want)
	}
}

// newReadySession returns a session with model "A" loaded.
func newReadySession(t *testing.T, configure func(*fakeEngine)) (*Session, *fakeFactory, *fakeEngine) {
	t.Helper()
	f := newFakeFactory()
	f.configure = configure
	s := New(Config{Factory: f, DefaultModel: "A"})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	f.waitStarted(t, "A")
	e := f.engine("A", 0)
	if e == nil {
		t.Fatalf("expected engine for A")
	}
	return s, f, e
}

func waitOpened(t *testing.T, e *fakeEngine) *fakeStream {
	t.Helper()
	select {
	case s := <-e.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream on %s", e.id)
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type sendResult struct {
	content string
	err     error
}

// sendAsync runs SendMessage in a goroutine.
func sendAsync(s *Session, text string, onDelta func(string)) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		c, err := s.SendMessage(context.Background(), text, onDelta)
		out <- sendResult{content: c, err: err}
	}()
	return out
}

func awaitSend(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for SendMessage")
		return sendResult{}
	}
}
