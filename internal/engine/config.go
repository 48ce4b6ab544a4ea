package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by NewFactory.
const (
	BackendServer = "server" // external llama.cpp server (OpenAI-compatible)
	BackendSpawn  = "spawn"  // one llama-server subprocess per loaded model
	BackendLlama  = "llama"  // in-process go-llama.cpp (requires -tags=llama)
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultReadyTimeout   = 60 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultHost           = "127.0.0.1"
)

// Params captures generation parameters sent with every completion.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// Config encapsulates all tunables for the engine backends.
type Config struct {
	Backend string

	// server backend
	BaseURL string
	APIKey  string

	// spawn backend
	LlamaBin       string
	LlamaHost      string
	LlamaPortStart int
	LlamaPortEnd   int
	LlamaNGL       int
	LlamaExtraArgs []string

	// spawn and in-process backends
	LlamaCtxSize int
	LlamaThreads int

	ReadyTimeout   time.Duration
	ConnectTimeout time.Duration
	Params         Params

	// Resolve maps a model identifier to a model file path. Required by the
	// spawn and llama backends.
	Resolve func(modelID string) (string, error)

	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if strings.TrimSpace(c.LlamaHost) == "" {
		c.LlamaHost = defaultHost
	}
	if c.Resolve == nil {
		c.Resolve = func(id string) (string, error) { return id, nil }
	}
	return c
}

func (c Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// NewFactory constructs the Factory for cfg.Backend.
func NewFactory(cfg Config) (Factory, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendServer, "":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("server backend requires a base url")
		}
		return NewServerFactory(cfg), nil
	case BackendSpawn:
		return NewSpawnFactory(cfg), nil
	case BackendLlama:
		return NewLlamaFactory(cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine backend: %s", cfg.Backend)
	}
}
