package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/httpapi"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, o)
		},
	}
	addEngineFlags(cmd, o)
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&o.historyDB, "history-db", "", "SQLite file recording completed exchanges (empty disables)")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma separated CORS origins (empty disables CORS)")
	f.DurationVar(&o.chatTimeout, "chat-timeout", 0, "Upper bound for one streamed reply (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, o *overrides) error {
	cfg, log, err := loadConfig(cmd, opts, o)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetChatTimeout(o.chatTimeout)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(a.service()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Str("models_dir", cfg.ModelsDir).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.DefaultModel != "" {
		go func() {
			if err := a.Load(baseCtx); err != nil {
				log.Warn().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			cancelBase()
			a.close(context.Background())
			return err
		}
	}

	// Streams and event subscribers end when the base context goes away.
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	a.close(shutdownCtx)
	return nil
}
