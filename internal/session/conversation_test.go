package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatd/internal/engine"
)

func TestSendMessage_StreamsIntoPlaceholder(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) {
		e.script = []streamItem{
			textItem("Hel"),
			{chunk: engine.Chunk{Delta: engine.Delta{Content: []any{map[string]any{"type": "text", "text": "lo"}}}}},
			{chunk: engine.Chunk{FinishReason: "stop"}},
		}
	})
	var deltas []string
	got, err := s.SendMessage(context.Background(), "  hi  ", func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("unexpected deltas: %q", deltas)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 2 {
		t.Fatalf("expected 2 entries, got %+v", snap.Conversation)
	}
	if snap.Conversation[0] != (Entry{Role: engine.RoleUser, Content: "hi"}) {
		t.Fatalf("unexpected user entry: %+v", snap.Conversation[0])
	}
	if snap.Conversation[1] != (Entry{Role: engine.RoleAssistant, Content: "Hello"}) {
		t.Fatalf("unexpected assistant entry: %+v", snap.Conversation[1])
	}
	if snap.Generating {
		t.Fatalf("expected generating cleared")
	}
	payload := e.lastPayload()
	if len(payload) != 1 || payload[0].Role != engine.RoleUser || payload[0].Content != "hi" {
		t.Fatalf("payload must hold history without placeholder: %+v", payload)
	}
}

func TestSendMessage_PayloadCarriesHistory(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.script = []streamItem{textItem("ok")} })
	for _, msg := range []string{"one", "two"} {
		if _, err := s.SendMessage(context.Background(), msg, nil); err != nil {
			t.Fatalf("send %q: %v", msg, err)
		}
	}
	payload := e.lastPayload()
	want := []engine.Message{
		{Role: engine.RoleUser, Content: "one"},
		{Role: engine.RoleAssistant, Content: "ok"},
		{Role: engine.RoleUser, Content: "two"},
	}
	if len(payload) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), payload)
	}
	for i := range want {
		if payload[i] != want[i] {
			t.Fatalf("payload[%d] = %+v, want %+v", i, payload[i], want[i])
		}
	}
}

func TestSendMessage_NotReady(t *testing.T) {
	s := New(Config{Factory: newFakeFactory(), DefaultModel: "A"})
	_, err := s.SendMessage(context.Background(), "hi", nil)
	if !IsNotReady(err) {
		t.Fatalf("expected not ready, got %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 0 || snap.Error != "" || snap.Generating {
		t.Fatalf("not-ready send must not mutate state: %+v", snap)
	}
}

func TestSendMessage_BlankIsNoop(t *testing.T) {
	s, _, e := newReadySession(t, nil)
	got, err := s.SendMessage(context.Background(), " \n\t ", nil)
	if err != nil || got != "" {
		t.Fatalf("expected silent no-op, got %q %v", got, err)
	}
	if len(s.Snapshot().Conversation) != 0 || e.lastPayload() != nil {
		t.Fatalf("blank message must not reach the engine")
	}
}

func TestSendMessage_BusyIsNoop(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.hold = true })
	first := sendAsync(s, "first", nil)
	st := waitOpened(t, e)
	waitFor(t, "placeholder", func() bool { return len(s.Snapshot().Conversation) == 2 })

	got, err := s.SendMessage(context.Background(), "second", nil)
	if err != nil || got != "" {
		t.Fatalf("expected no-op while generating, got %q %v", got, err)
	}
	if _, started, err := s.Send(context.Background(), "third", Turn{}); started || err != nil {
		t.Fatalf("busy send must report not started, got started=%v err=%v", started, err)
	}
	if n := len(s.Snapshot().Conversation); n != 2 {
		t.Fatalf("expected user+placeholder only, got %d entries", n)
	}

	st.items <- textItem("done")
	close(st.items)
	if r := awaitSend(t, first); r.err != nil || r.content != "done" {
		t.Fatalf("unexpected first result: %+v", r)
	}
}

func TestSendMessage_StreamFailureRollsBack(t *testing.T) {
	s, _, _ := newReadySession(t, func(e *fakeEngine) {
		e.script = []streamItem{textItem("par"), errItem("boom")}
	})
	_, err := s.SendMessage(context.Background(), "hi", nil)
	if !IsGenerationFailure(err) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || snap.Conversation[0].Role != engine.RoleUser {
		t.Fatalf("expected only the user message to remain, got %+v", snap.Conversation)
	}
	if snap.Error != "Failed to generate response: boom" {
		t.Fatalf("unexpected error field: %q", snap.Error)
	}
	if snap.Generating {
		t.Fatalf("expected generating cleared")
	}
}

func TestSendMessage_OpenFailureKeepsUserMessage(t *testing.T) {
	s, _, _ := newReadySession(t, func(e *fakeEngine) { e.openErr = errors.New("refused") })
	_, err := s.SendMessage(context.Background(), "hi", nil)
	if !IsGenerationFailure(err) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Conversation) != 1 || snap.Error != "Failed to generate response: refused" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSendMessage_ErrorClearedByNextSend(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.script = []streamItem{errItem("boom")} })
	if _, err := s.SendMessage(context.Background(), "hi", nil); err == nil {
		t.Fatalf("expected failure")
	}
	e.mu.Lock()
	e.script = []streamItem{textItem("ok")}
	e.mu.Unlock()
	if _, err := s.SendMessage(context.Background(), "again", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	snap := s.Snapshot()
	if snap.Error != "" || len(snap.Conversation) != 3 {
		t.Fatalf("expected error cleared and user, user, assistant: %+v", snap)
	}
}

func TestInterrupt_KeepsPartialContent(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.hold = true })
	if s.Interrupt() {
		t.Fatalf("interrupt without generation must report false")
	}
	got := make(chan string, 4)
	res := sendAsync(s, "hi", func(d string) { got <- d })
	st := waitOpened(t, e)
	st.items <- textItem("Hel")
	<-got

	if !s.Interrupt() {
		t.Fatalf("expected interrupt to find a generation")
	}
	r := awaitSend(t, res)
	if r.err != nil || r.content != "Hel" {
		t.Fatalf("interrupted send should end naturally, got %+v", r)
	}
	if n, _ := e.counts(); n != 1 {
		t.Fatalf("expected 1 engine interrupt, got %d", n)
	}
	snap := s.Snapshot()
	if snap.Generating || len(snap.Conversation) != 2 || snap.Conversation[1].Content != "Hel" || snap.Error != "" {
		t.Fatalf("unexpected snapshot after interrupt: %+v", snap)
	}
}

func TestSend_StaleInterruptLeavesNewerGeneration(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.hold = true })
	var stale func() bool
	res := make(chan bool, 1)
	go func() {
		_, started, _ := s.Send(context.Background(), "first", Turn{OnStart: func(interrupt func() bool) { stale = interrupt }})
		res <- started
	}()
	st := waitOpened(t, e)
	close(st.items)
	select {
	case started := <-res:
		if !started {
			t.Fatalf("expected first send to start")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first send")
	}

	next := sendAsync(s, "second", nil)
	cur := waitOpened(t, e)
	if stale() {
		t.Fatalf("interrupt of a finished generation must report false")
	}
	if n, _ := e.counts(); n != 0 {
		t.Fatalf("stale interrupt reached the engine %d times", n)
	}
	if !s.Snapshot().Generating {
		t.Fatalf("newer generation must keep running")
	}

	cur.items <- textItem("ok")
	close(cur.items)
	if r := awaitSend(t, next); r.err != nil || r.content != "ok" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestReset_DuringGeneration(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.hold = true })
	got := make(chan string, 4)
	res := sendAsync(s, "hi", func(d string) { got <- d })
	st := waitOpened(t, e)
	st.items <- textItem("a")
	<-got

	s.Reset()
	st.items <- textItem("b")
	<-got
	close(st.items)

	r := awaitSend(t, res)
	if r.err != nil || r.content != "ab" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if n := len(s.Snapshot().Conversation); n != 0 {
		t.Fatalf("writes after reset must not land in the log, got %d entries", n)
	}
}

func TestReset_ClearsConversation(t *testing.T) {
	s, _, _ := newReadySession(t, func(e *fakeEngine) { e.script = []streamItem{textItem("x")} })
	if _, err := s.SendMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	s.Reset()
	snap := s.Snapshot()
	if len(snap.Conversation) != 0 || !snap.Ready || snap.LoadedModel != "A" {
		t.Fatalf("reset must only clear the log: %+v", snap)
	}
}

func TestReset_ThenSendStartsFreshConversation(t *testing.T) {
	s, _, e := newReadySession(t, func(e *fakeEngine) { e.script = []streamItem{textItem("Hello")} })
	if _, err := s.SendMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("first send: %v", err)
	}
	first := e.lastPayload()
	s.Reset()
	if _, err := s.SendMessage(context.Background(), "hi", nil); err != nil {
		t.Fatalf("send after reset: %v", err)
	}
	conv := s.Snapshot().Conversation
	if len(conv) != 2 {
		t.Fatalf("expected exactly two entries after reset and send, got %+v", conv)
	}
	if conv[0].Role != engine.RoleUser || conv[0].Content != "hi" || conv[1].Role != engine.RoleAssistant || conv[1].Content != "Hello" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if second := e.lastPayload(); len(second) != len(first) {
		t.Fatalf("payload after reset must not carry old turns: first=%d second=%d", len(first), len(second))
	}
}

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"empty", "", ""},
		{"strings", []string{"a", "b"}, "ab"},
		{"parts", []engine.ContentPart{{Type: "text", Text: "x"}, {Text: "y"}}, "xy"},
		{"decoded", []any{"a", map[string]any{"text": "b"}, map[string]any{"image": "z"}, 3}, "ab"},
		{"non-string text", []any{map[string]any{"text": 1}}, ""},
		{"raw json", json.RawMessage(`[{"text":"r"},"s"]`), "rs"},
		{"bytes", []byte("no"), ""},
		{"number", 42, ""},
	}
	for _, tc := range cases {
		if got := ExtractText(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}
