package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chatd/internal/common/fsutil"
	"chatd/internal/config"
	"chatd/internal/engine"
	"chatd/internal/httpapi"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/internal/transcript"
	"chatd/pkg/types"
)

// app wires the session to the registry, the event broadcaster and the
// optional transcript. It implements httpapi.Service and EventSource.
type app struct {
	*session.Session
	reg      *registry.Registry
	events   *session.Broadcaster
	store    *transcript.Store
	recorder *transcript.Recorder
	log      zerolog.Logger
}

// newApp scans the models directory and builds the configured engine
// factory. A missing models directory leaves the registry empty.
func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	var models []types.Model
	if dir, err := fsutil.ExpandHome(cfg.ModelsDir); err == nil && fsutil.PathExists(dir) {
		models, err = registry.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load models: %w", err)
		}
	} else {
		log.Warn().Str("dir", cfg.ModelsDir).Msg("models dir not found; registry is empty")
	}
	reg := registry.New(models)

	ecfg := cfg.Engine()
	ecfg.Resolve = reg.Resolve
	ecfg.Logger = &log
	factory, err := engine.NewFactory(ecfg)
	if err != nil {
		return nil, err
	}
	return newAppWithFactory(cfg, reg, factory, log)
}

func newAppWithFactory(cfg config.Config, reg *registry.Registry, factory engine.Factory, log zerolog.Logger) (*app, error) {
	a := &app{reg: reg, events: session.NewBroadcaster(0), log: log}
	pubs := session.MultiPublisher{a.events}
	if cfg.HistoryDB != "" {
		store, err := transcript.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.store = store
		a.recorder = transcript.NewRecorder(store, log)
		pubs = append(pubs, a.recorder)
	}
	a.Session = session.New(session.Config{
		Factory:      factory,
		DefaultModel: cfg.DefaultModel,
		Publisher:    pubs,
		Logger:       &log,
	})
	return a, nil
}

func (a *app) ListModels() []types.Model { return a.reg.Models() }

func (a *app) Subscribe() (<-chan session.Event, func()) { return a.events.Subscribe() }

// service returns the value handed to the HTTP layer. History is only
// exposed when a transcript store is configured.
func (a *app) service() httpapi.Service {
	if a.store != nil {
		return historyApp{a}
	}
	return a
}

func (a *app) close(ctx context.Context) {
	a.Session.Close(ctx)
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close history")
		}
	}
}

type historyApp struct{ *app }

func (h historyApp) History(ctx context.Context, limit int) ([]types.Turn, error) {
	return h.store.List(ctx, limit)
}
