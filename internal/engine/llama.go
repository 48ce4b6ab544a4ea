//go:build llama

package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// llamaFactory loads models in-process through go-llama.cpp.
type llamaFactory struct {
	cfg Config
	log zerolog.Logger
}

func NewLlamaFactory(cfg Config) Factory {
	cfg = cfg.withDefaults()
	return &llamaFactory{cfg: cfg, log: cfg.logger().With().Str("engine", BackendLlama).Logger()}
}

func (f *llamaFactory) Create(ctx context.Context, modelID string, onProgress func(ProgressReport)) (Engine, error) {
	modelPath, err := f.cfg.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, NotFound(modelID)
	}
	start := time.Now()
	report := func(p float64, text string) {
		if onProgress != nil {
			onProgress(ProgressReport{Progress: p, Text: text, TimeElapsed: time.Since(start).Seconds()})
		}
	}
	report(0, "Loading "+modelPath)
	mo := []llama.ModelOption{}
	if f.cfg.LlamaCtxSize > 0 {
		mo = append(mo, llama.SetContext(f.cfg.LlamaCtxSize))
	}
	// llama.New blocks in C; ctx is only honoured before and after it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		m.Free()
		return nil, err
	}
	report(1, "Finish loading")
	f.log.Info().Str("model", modelID).Dur("dur", time.Since(start)).Msg("engine ready")
	return &llamaEngine{model: m, threads: f.cfg.LlamaThreads, params: f.cfg.Params}, nil
}

// llamaEngine owns the loaded model. go-llama.cpp predicts one prompt at a
// time; the session never opens two streams on one engine.
type llamaEngine struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	params  Params
	cur     *llamaStream
}

func (e *llamaEngine) StreamCompletion(ctx context.Context, messages []Message) (Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	s := &llamaStream{tokens: make(chan string, 64), done: make(chan struct{}), run: newPredictRun()}
	e.cur = s
	model := e.model
	model.SetTokenCallback(func(tok string) bool {
		if s.interrupted.Load() {
			return false
		}
		select {
		case s.tokens <- tok:
			return true
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		}
	})
	po := mapParamsToPredictOptions(e.params, e.threads)
	prompt := renderChatML(messages)
	go func() {
		_, err := model.Predict(prompt, po...)
		if err == nil && ctx.Err() != nil && !s.interrupted.Load() {
			err = ctx.Err()
		}
		s.err = err
		close(s.tokens)
		s.run.finish()
	}()
	return s, nil
}

func (e *llamaEngine) InterruptGeneration() error {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s != nil {
		s.interrupted.Store(true)
	}
	return nil
}

// Unload frees the model once any running Predict has returned; freeing it
// under a live prediction crashes in C.
func (e *llamaEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	model, s := e.model, e.cur
	e.model, e.cur = nil, nil
	e.mu.Unlock()
	if model == nil {
		return nil
	}
	var run *predictRun
	var stop func()
	if s != nil {
		run = s.run
		stop = func() {
			s.interrupted.Store(true)
			_ = s.Close()
		}
	}
	return releaseAfter(ctx, run, stop, model.Free)
}

type llamaStream struct {
	tokens      chan string
	done        chan struct{}
	closeOnce   sync.Once
	interrupted atomic.Bool
	run         *predictRun
	err         error // written before tokens is closed
}

func (s *llamaStream) Recv() (Chunk, error) {
	tok, ok := <-s.tokens
	if ok {
		return Chunk{Delta: Delta{Role: RoleAssistant, Content: tok}}, nil
	}
	if s.err != nil && !s.interrupted.Load() {
		return Chunk{}, s.err
	}
	return Chunk{}, io.EOF
}

func (s *llamaStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapParamsToPredictOptions converts our params into go-llama.cpp options.
func mapParamsToPredictOptions(params Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, zn(params.MaxTokens, 512))),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetStopWords(append(append([]string(nil), chatMLStop...), params.Stop...)...),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	return po
}
