package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// serverFactory creates engines that talk to a running llama.cpp server over HTTP
// using its OpenAI-compatible chat completions endpoint.
type serverFactory struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewServerFactory constructs a server-backed factory.
func NewServerFactory(cfg Config) Factory {
	cfg = cfg.withDefaults()
	return &serverFactory{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg.ConnectTimeout),
		log:        cfg.logger().With().Str("engine", BackendServer).Logger(),
	}
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries its own context deadline.
	return &http.Client{Transport: tr, Timeout: 0}
}

func (f *serverFactory) Create(ctx context.Context, modelID string, onProgress func(ProgressReport)) (Engine, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, NotFound("(unspecified)")
	}
	base := strings.TrimRight(f.cfg.BaseURL, "/")
	if err := waitHealthy(ctx, f.httpClient, base, f.cfg.APIKey, f.cfg.ReadyTimeout, onProgress, nil); err != nil {
		return nil, err
	}
	f.log.Info().Str("model", modelID).Str("url", base).Msg("engine ready")
	return newServerEngine(f.httpClient, base, f.cfg.APIKey, modelID, f.cfg.Params, f.log, nil), nil
}

// waitHealthy polls GET /v1/models until the server answers 2xx, reporting progress.
// exited, when non-nil, aborts the wait as soon as it yields.
func waitHealthy(ctx context.Context, hc *http.Client, base, apiKey string, timeout time.Duration, onProgress func(ProgressReport), exited <-chan error) error {
	start := time.Now()
	report := func(p float64, text string) {
		if onProgress != nil {
			onProgress(ProgressReport{Progress: p, Text: text, TimeElapsed: time.Since(start).Seconds()})
		}
	}
	report(0, "Connecting to "+base)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		if err := checkHealth(ctx, hc, base, apiKey); err == nil {
			report(1, "Finish loading")
			return nil
		}
		frac := time.Since(start).Seconds() / timeout.Seconds()
		if frac > 0.99 {
			frac = 0.99
		}
		report(frac, "Waiting for "+base)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("llama server not ready in time: %s", base)
			}
			return ctx.Err()
		case err := <-exited:
			if err == nil {
				err = errors.New("exited before ready")
			}
			return fmt.Errorf("llama server %s: %w", base, err)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func checkHealth(ctx context.Context, hc *http.Client, base, apiKey string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// serverEngine streams chat completions from one server for one model.
type serverEngine struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	params     Params
	log        zerolog.Logger
	// onUnload releases backend resources (e.g. a spawned process).
	onUnload func(ctx context.Context) error

	mu       sync.Mutex
	cur      *serverStream
	unloaded bool
}

func newServerEngine(hc *http.Client, base, apiKey, model string, params Params, log zerolog.Logger, onUnload func(context.Context) error) *serverEngine {
	return &serverEngine{
		httpClient: hc,
		baseURL:    base,
		apiKey:     apiKey,
		model:      model,
		params:     params,
		log:        log,
		onUnload:   onUnload,
	}
}

// chatCompletionRequest is the payload for /v1/chat/completions.
type chatCompletionRequest struct {
	Model         string    `json:"model,omitempty"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   float32   `json:"temperature,omitempty"`
	TopP          float32   `json:"top_p,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	Stop          []string  `json:"stop,omitempty"`
	Seed          int       `json:"seed,omitempty"`
	Stream        bool      `json:"stream"`
	RepeatPenalty float32   `json:"repeat_penalty,omitempty"`
}

// chatStreamResponse is the subset of an OpenAI streaming chunk we consume.
type chatStreamResponse struct {
	Choices []struct {
		Delta        Delta  `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (e *serverEngine) StreamCompletion(ctx context.Context, messages []Message) (Stream, error) {
	e.mu.Lock()
	if e.unloaded {
		e.mu.Unlock()
		return nil, errors.New("engine unloaded")
	}
	e.mu.Unlock()

	payload := chatCompletionRequest{
		Model:         e.model,
		Messages:      messages,
		MaxTokens:     e.params.MaxTokens,
		Temperature:   e.params.Temperature,
		TopP:          e.params.TopP,
		TopK:          e.params.TopK,
		Stop:          e.params.Stop,
		Seed:          e.params.Seed,
		Stream:        true,
		RepeatPenalty: e.params.RepeatPenalty,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodPost, e.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	s := &serverStream{engine: e, body: resp.Body, r: newSSEReader(resp.Body), cancel: cancel}
	e.mu.Lock()
	e.cur = s
	e.mu.Unlock()
	return s, nil
}

func (e *serverEngine) InterruptGeneration() error {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s != nil {
		s.interrupt()
	}
	return nil
}

func (e *serverEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	if e.unloaded {
		e.mu.Unlock()
		return nil
	}
	e.unloaded = true
	s := e.cur
	e.cur = nil
	e.mu.Unlock()
	if s != nil {
		s.interrupt()
	}
	e.httpClient.CloseIdleConnections()
	if e.onUnload != nil {
		return e.onUnload(ctx)
	}
	return nil
}

func (e *serverEngine) release(s *serverStream) {
	e.mu.Lock()
	if e.cur == s {
		e.cur = nil
	}
	e.mu.Unlock()
}

// serverStream adapts an SSE response body to Stream.
type serverStream struct {
	engine      *serverEngine
	body        io.ReadCloser
	r           *sseReader
	cancel      context.CancelFunc
	interrupted atomic.Bool
	aborted     bool // abort chunk delivered; Recv is single-consumer
	closeOnce   sync.Once
}

func (s *serverStream) interrupt() {
	s.interrupted.Store(true)
	s.cancel()
}

// Recv returns the next chunk. An interrupted stream ends as a natural EOF
// after a final chunk with finish reason "abort".
func (s *serverStream) Recv() (Chunk, error) {
	for {
		ev, err := s.r.Next()
		if err != nil {
			if s.interrupted.Load() {
				if !s.aborted {
					s.aborted = true
					return Chunk{FinishReason: "abort"}, nil
				}
				return Chunk{}, io.EOF
			}
			return Chunk{}, err
		}
		if ev.Data == "" {
			continue
		}
		if ev.Data == "[DONE]" {
			return Chunk{}, io.EOF
		}
		var msg chatStreamResponse
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			s.engine.log.Debug().Str("line", ev.Data).Msg("unknown stream line")
			continue
		}
		if len(msg.Choices) == 0 {
			continue
		}
		c := msg.Choices[0]
		return Chunk{Delta: c.Delta, FinishReason: c.FinishReason}, nil
	}
}

func (s *serverStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
		s.engine.release(s)
	})
	return err
}
