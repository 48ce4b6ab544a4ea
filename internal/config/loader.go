package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"chatd/internal/engine"
)

// Params are the sampling parameters sent with every completion.
type Params struct {
	Temperature   float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Stop          []string `json:"stop" yaml:"stop" toml:"stop"`
	Seed          int      `json:"seed" yaml:"seed" toml:"seed"`
	RepeatPenalty float32  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// Backend is one of server, spawn or llama.
	Backend        string   `json:"backend" yaml:"backend" toml:"backend"`
	LlamaURL       string   `json:"llama_url" yaml:"llama_url" toml:"llama_url"`
	LlamaAPIKey    string   `json:"llama_api_key" yaml:"llama_api_key" toml:"llama_api_key"`
	LlamaBin       string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	LlamaHost      string   `json:"llama_host" yaml:"llama_host" toml:"llama_host"`
	LlamaPortStart int      `json:"llama_port_start" yaml:"llama_port_start" toml:"llama_port_start"`
	LlamaPortEnd   int      `json:"llama_port_end" yaml:"llama_port_end" toml:"llama_port_end"`
	LlamaCtxSize   int      `json:"llama_ctx_size" yaml:"llama_ctx_size" toml:"llama_ctx_size"`
	LlamaThreads   int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaNGL       int      `json:"llama_ngl" yaml:"llama_ngl" toml:"llama_ngl"`
	LlamaExtraArgs []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args"`
	// ReadyTimeoutSeconds bounds engine creation.
	ReadyTimeoutSeconds int `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`

	Params Params `json:"params" yaml:"params" toml:"params"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// HistoryDB is the SQLite transcript path; empty disables it.
	HistoryDB   string   `json:"history_db" yaml:"history_db" toml:"history_db"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ModelsDir:           "~/models/llm",
		Backend:             engine.BackendSpawn,
		LlamaHost:           "127.0.0.1",
		ReadyTimeoutSeconds: 60,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// ApplyDefaults fills unspecified fields from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = d.ModelsDir
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.LlamaHost == "" {
		c.LlamaHost = d.LlamaHost
	}
	if c.ReadyTimeoutSeconds <= 0 {
		c.ReadyTimeoutSeconds = d.ReadyTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
}

// Environment variables consulted by ApplyEnv.
const (
	EnvConfig    = "CHATD_CONFIG"
	EnvAddr      = "CHATD_ADDR"
	EnvLogLevel  = "CHATD_LOG_LEVEL"
	EnvModelsDir = "CHATD_MODELS_DIR"
	EnvBackend   = "CHATD_BACKEND"
	EnvLlamaURL  = "CHATD_LLAMA_URL"
)

// ApplyEnv overrides fields from non-empty environment values.
// getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Addr, EnvAddr)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.ModelsDir, EnvModelsDir)
	set(&c.Backend, EnvBackend)
	set(&c.LlamaURL, EnvLlamaURL)
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch c.Backend {
	case engine.BackendServer:
		if strings.TrimSpace(c.LlamaURL) == "" {
			return fmt.Errorf("backend %q requires llama_url", c.Backend)
		}
	case engine.BackendSpawn, engine.BackendLlama:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.LlamaPortStart > 0 && c.LlamaPortEnd < c.LlamaPortStart {
		return fmt.Errorf("invalid llama port range %d-%d", c.LlamaPortStart, c.LlamaPortEnd)
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Engine converts the configuration into an engine.Config. Resolve and
// Logger are left for the caller to wire.
func (c Config) Engine() engine.Config {
	return engine.Config{
		Backend:        c.Backend,
		BaseURL:        c.LlamaURL,
		APIKey:         c.LlamaAPIKey,
		LlamaBin:       c.LlamaBin,
		LlamaHost:      c.LlamaHost,
		LlamaPortStart: c.LlamaPortStart,
		LlamaPortEnd:   c.LlamaPortEnd,
		LlamaNGL:       c.LlamaNGL,
		LlamaExtraArgs: append([]string(nil), c.LlamaExtraArgs...),
		LlamaCtxSize:   c.LlamaCtxSize,
		LlamaThreads:   c.LlamaThreads,
		ReadyTimeout:   time.Duration(c.ReadyTimeoutSeconds) * time.Second,
		Params: engine.Params{
			Temperature:   c.Params.Temperature,
			TopP:          c.Params.TopP,
			TopK:          c.Params.TopK,
			MaxTokens:     c.Params.MaxTokens,
			Stop:          append([]string(nil), c.Params.Stop...),
			Seed:          c.Params.Seed,
			RepeatPenalty: c.Params.RepeatPenalty,
		},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
