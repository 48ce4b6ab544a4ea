package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/common/logutil"
	"chatd/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Single-session local LLM chat daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .json or .toml); defaults to $"+config.EnvConfig)
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newModelsCmd(opts), newVersionCmd())
	return root
}

// overrides holds command-line values that win over file and environment.
// Only flags the user actually set are applied.
type overrides struct {
	addr         string
	modelsDir    string
	defaultModel string
	backend      string
	llamaURL     string
	llamaBin     string
	historyDB    string
	corsOrigins  string
	chatTimeout  time.Duration
}

// addEngineFlags registers the flags every session-owning command accepts.
func addEngineFlags(cmd *cobra.Command, o *overrides) {
	f := cmd.Flags()
	f.StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	f.StringVar(&o.defaultModel, "default-model", "", "Model requested at startup")
	f.StringVar(&o.backend, "backend", "", "Engine backend: server|spawn|llama")
	f.StringVar(&o.llamaURL, "llama-url", "", "Base URL of a running llama.cpp server (server backend)")
	f.StringVar(&o.llamaBin, "llama-bin", "", "Path to the llama-server binary (spawn backend)")
}

func (o *overrides) apply(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	set := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	set("addr", &cfg.Addr, o.addr)
	set("models-dir", &cfg.ModelsDir, o.modelsDir)
	set("default-model", &cfg.DefaultModel, o.defaultModel)
	set("backend", &cfg.Backend, o.backend)
	set("llama-url", &cfg.LlamaURL, o.llamaURL)
	set("llama-bin", &cfg.LlamaBin, o.llamaBin)
	set("history-db", &cfg.HistoryDB, o.historyDB)
	if changed("cors-origins") {
		cfg.CORSOrigins = splitCSV(o.corsOrigins)
	}
	if opts != nil {
		if v := strings.TrimSpace(opts.logLevel); v != "" {
			cfg.LogLevel = v
		}
		if v := strings.TrimSpace(opts.logFormat); v != "" {
			cfg.LogFormat = v
		}
	}
}

// resolveConfig merges defaults, the config file (path or $CHATD_CONFIG)
// and the environment, in that order.
func resolveConfig(path string, getenv func(string) string) (config.Config, error) {
	if path == "" {
		path = strings.TrimSpace(getenv(config.EnvConfig))
	}
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		fileCfg.ApplyDefaults()
		cfg = fileCfg
	}
	cfg.ApplyEnv(getenv)
	return cfg, nil
}

// loadConfig resolves, overrides and validates the configuration for cmd
// and builds the process logger.
func loadConfig(cmd *cobra.Command, opts *rootOptions, o *overrides) (config.Config, zerolog.Logger, error) {
	cfg, err := resolveConfig(opts.configPath, os.Getenv)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	o.apply(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, zerolog.Nop(), err
	}
	log, err := logutil.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, log, nil
}
