//go:build !llama

package engine

// This file provides a no-CGO stub for the in-process llama backend. It is
// compiled when the 'llama' build tag is NOT set, keeping default builds and
// CI CGO-free. The real backend lives in llama.go (tagged 'llama').

import "context"

type llamaFactory struct{}

func NewLlamaFactory(cfg Config) Factory { return llamaFactory{} }

func (llamaFactory) Create(ctx context.Context, modelID string, onProgress func(ProgressReport)) (Engine, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
