package main

import (
	"context"
	"errors"
	"io"
	"sync"

	"chatd/internal/engine"
)

// scriptFactory creates engines that reply with a fixed list of deltas.
type scriptFactory struct {
	reply   []string
	failIDs map[string]bool
}

func (f *scriptFactory) Create(ctx context.Context, modelID string, onProgress func(engine.ProgressReport)) (engine.Engine, error) {
	if f.failIDs[modelID] {
		return nil, errors.New("no such weights")
	}
	if onProgress != nil {
		onProgress(engine.ProgressReport{Progress: 1, Text: "Finish loading"})
	}
	return &scriptEngine{reply: f.reply}, nil
}

type scriptEngine struct {
	mu       sync.Mutex
	reply    []string
	unloaded bool
}

func (e *scriptEngine) StreamCompletion(ctx context.Context, msgs []engine.Message) (engine.Stream, error) {
	return &scriptStream{items: append([]string(nil), e.reply...)}, nil
}

func (e *scriptEngine) InterruptGeneration() error { return nil }

func (e *scriptEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	e.unloaded = true
	e.mu.Unlock()
	return nil
}

type scriptStream struct{ items []string }

func (s *scriptStream) Recv() (engine.Chunk, error) {
	if len(s.items) == 0 {
		return engine.Chunk{}, io.EOF
	}
	d := s.items[0]
	s.items = s.items[1:]
	return engine.Chunk{Delta: engine.Delta{Role: engine.RoleAssistant, Content: d}}, nil
}

func (s *scriptStream) Close() error { return nil }
