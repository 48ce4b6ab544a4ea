package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/session"
	"chatd/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, u := range []string{"one", "two", "three"} {
		id, err := s.Append(ctx, types.Turn{SessionID: "s", Model: "m", User: u, Assistant: "re " + u, CreatedUnix: int64(100 + i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id != int64(i+1) {
			t.Fatalf("expected id %d, got %d", i+1, id)
		}
	}
	turns, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 2 || turns[0].User != "two" || turns[1].User != "three" {
		t.Fatalf("expected the two most recent turns oldest first, got %+v", turns)
	}
	if turns[1].Assistant != "re three" || turns[1].CreatedUnix != 102 || turns[1].SessionID != "s" {
		t.Fatalf("unexpected turn: %+v", turns[1])
	}
}

func TestStore_ListEmpty(t *testing.T) {
	s := newTestStore(t)
	turns, err := s.List(context.Background(), 0)
	if err != nil || len(turns) != 0 {
		t.Fatalf("expected no turns, got %v %v", turns, err)
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(context.Background(), types.Turn{SessionID: "s", Model: "m", User: "u", Assistant: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = s.Close()
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	turns, err := s.List(context.Background(), 10)
	if err != nil || len(turns) != 1 || turns[0].CreatedUnix == 0 {
		t.Fatalf("expected persisted turn, got %+v %v", turns, err)
	}
}

func TestRecorder_WritesGenerationDone(t *testing.T) {
	s := newTestStore(t)
	r := NewRecorder(s, zerolog.Nop())
	now := time.Unix(1700000000, 0)
	r.Publish(session.Event{Name: session.EventLoadReady, SessionID: "s", ModelID: "m", Time: now})
	r.Publish(session.Event{
		Name:      session.EventGenerationDone,
		SessionID: "s",
		ModelID:   "m",
		Time:      now,
		Fields:    map[string]any{"user": "hi", "assistant": "hello", "finish_reason": "stop"},
	})
	r.Close()
	r.Close()
	r.Publish(session.Event{Name: session.EventGenerationDone, SessionID: "s"})

	turns, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected exactly one turn, got %+v", turns)
	}
	got := turns[0]
	if got.User != "hi" || got.Assistant != "hello" || got.FinishReason != "stop" || got.Model != "m" || got.CreatedUnix != now.Unix() {
		t.Fatalf("unexpected turn: %+v", got)
	}
}
