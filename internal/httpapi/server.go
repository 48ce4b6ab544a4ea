package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/session"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Snapshot() session.Snapshot
	Ready() bool
	RequestModel(id string)
	Load(ctx context.Context) error
	Send(ctx context.Context, text string, turn session.Turn) (string, bool, error)
	Interrupt() bool
	Reset()
}

// EventSource is implemented by services that can stream session events.
type EventSource interface {
	Subscribe() (<-chan session.Event, func())
}

// HistorySource is implemented by services that keep a transcript.
type HistorySource interface {
	History(ctx context.Context, limit int) ([]types.Turn, error)
}

var startTime = time.Now()

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Post("/model", h.selectModel)
	r.Post("/load", h.load)
	r.Post("/chat", h.chat)
	r.Post("/interrupt", h.interrupt)
	r.Post("/reset", h.reset)
	r.Get("/events", h.events)
	r.Get("/history", h.history)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// decodeJSON enforces the content type and body limit and decodes into v.
// It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// models godoc
// @Summary List models
// @Tags models
// @Produce json
// @Success 200 {object} types.ModelsResponse
// @Router /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	models := h.svc.ListModels()
	if models == nil {
		models = []types.Model{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
}

// status godoc
// @Summary Session status
// @Tags session
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse(h.svc.Snapshot()))
}

func statusResponse(s session.Snapshot) types.StatusResponse {
	out := types.StatusResponse{
		SessionID:      s.SessionID,
		RequestedModel: s.RequestedModel,
		LoadingModel:   s.LoadingModel,
		LoadedModel:    s.LoadedModel,
		PendingModel:   s.PendingModel,
		Ready:          s.Ready,
		Loading:        s.Loading,
		Generating:     s.Generating,
		Status:         s.Status.Label,
		StatusColor:    string(s.Status.Color),
		Error:          s.Error,
		Conversation:   make([]types.Message, 0, len(s.Conversation)),
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if s.Progress != nil {
		out.Progress = &types.Progress{Progress: s.Progress.Progress, Text: s.Progress.Text, TimeElapsed: s.Progress.TimeElapsed}
	}
	for _, e := range s.Conversation {
		out.Conversation = append(out.Conversation, types.Message{Role: string(e.Role), Content: e.Content})
	}
	return out
}

// selectModel godoc
// @Summary Select the model and start loading it in the background
// @Tags session
// @Accept json
// @Produce json
// @Param body body types.ModelRequest true "model"
// @Success 202 {object} types.AcceptedResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /model [post]
func (h *handlers) selectModel(w http.ResponseWriter, r *http.Request) {
	var req types.ModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.Model)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if models := h.svc.ListModels(); len(models) > 0 && !containsModel(models, id) {
		writeJSONError(w, http.StatusNotFound, "model not found: "+id)
		return
	}
	h.svc.RequestModel(id)
	log := requestLogger(r)
	go func() {
		if err := h.svc.Load(serverBaseCtx); err != nil {
			log.Warn().Err(err).Str("model", id).Msg("background load failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, types.AcceptedResponse{Status: "accepted", Model: id})
}

func containsModel(models []types.Model, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// load godoc
// @Summary Load the requested model and wait for it
// @Tags session
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	// Detached from the request: a disconnecting client must not abort a load
	// other callers may be waiting on.
	if err := h.svc.Load(serverBaseCtx); err != nil {
		writeJSONError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(h.svc.Snapshot()))
}

// chat godoc
// @Summary Send a message and stream the reply
// @Description Streams NDJSON lines: {"delta":...} per fragment, then {"done":true,"content":...}.
// @Tags chat
// @Accept json
// @Produce application/x-ndjson
// @Param body body types.ChatRequest true "message"
// @Success 200 {object} types.ChatLine
// @Failure 400 {object} types.ErrorResponse
// @Failure 409 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Router /chat [post]
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	lvl := requestLogLevel(r)
	log := requestLogger(r)
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Msg("chat start")
	}

	ctx := serverBaseCtx
	if chatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, chatTimeout)
		defer cancel()
	}
	// A client that goes away interrupts its own reply instead of failing
	// it. Another client's generation is never touched.
	var (
		genMu   sync.Mutex
		stopGen func() bool
	)
	stop := context.AfterFunc(r.Context(), func() {
		genMu.Lock()
		f := stopGen
		genMu.Unlock()
		if f != nil {
			f()
		}
	})
	defer stop()

	out := &ndjsonWriter{w: w}
	if lvl >= LevelDebug {
		out.tee = &lineLogger{log: log}
	}
	content, started, err := h.svc.Send(ctx, req.Message, session.Turn{
		OnStart: func(interrupt func() bool) {
			genMu.Lock()
			stopGen = interrupt
			genMu.Unlock()
			if r.Context().Err() != nil {
				interrupt()
			}
		},
		OnDelta: func(d string) { out.line(types.ChatLine{Delta: d}) },
	})
	if err == nil && !started {
		IncrementBackpressure("generating")
		writeJSONError(w, http.StatusTooManyRequests, "a reply is already being generated")
		if lvl >= LevelError {
			log.Info().Int("status", http.StatusTooManyRequests).Dur("dur", time.Since(start)).Msg("chat end")
		}
		return
	}
	if err != nil {
		status := statusForError(err)
		if !out.started() {
			writeJSONError(w, status, err.Error())
		} else {
			out.line(types.ChatLine{Done: true, Error: err.Error()})
		}
		if lvl >= LevelError {
			log.Info().Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
		}
		return
	}
	out.line(types.ChatLine{Done: true, Content: content})
	if lvl >= LevelInfo {
		log.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("chars", len(content)).Msg("chat end")
	}
}

// ndjsonWriter writes one JSON value per line and flushes after each. The
// response header is committed on the first line.
type ndjsonWriter struct {
	mu    sync.Mutex
	w     http.ResponseWriter
	tee   io.Writer
	begun bool
}

func (n *ndjsonWriter) started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.begun
}

func (n *ndjsonWriter) line(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	b = append(b, '\n')
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.begun {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.begun = true
	}
	_, _ = n.w.Write(b)
	if n.tee != nil {
		_, _ = n.tee.Write(b)
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
}

// interrupt godoc
// @Summary Interrupt the running generation
// @Tags chat
// @Produce json
// @Success 200 {object} types.AcceptedResponse
// @Router /interrupt [post]
func (h *handlers) interrupt(w http.ResponseWriter, r *http.Request) {
	status := "idle"
	if h.svc.Interrupt() {
		status = "interrupted"
	}
	writeJSON(w, http.StatusOK, types.AcceptedResponse{Status: status})
}

// reset godoc
// @Summary Clear the conversation
// @Tags chat
// @Produce json
// @Success 200 {object} types.AcceptedResponse
// @Router /reset [post]
func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	h.svc.Reset()
	writeJSON(w, http.StatusOK, types.AcceptedResponse{Status: "reset"})
}

// events godoc
// @Summary Stream session events
// @Tags session
// @Produce application/x-ndjson
// @Success 200 {object} session.Event
// @Failure 404 {object} types.ErrorResponse
// @Router /events [get]
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	src, ok := h.svc.(EventSource)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	ch, cancel := src.Subscribe()
	defer cancel()
	out := &ndjsonWriter{w: w}
	// commit headers so clients see the stream before the first event
	out.mu.Lock()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	out.begun = true
	out.mu.Unlock()
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	ctx, stop := joinContexts(r.Context(), serverBaseCtx)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			out.line(ev)
		}
	}
}

// history godoc
// @Summary Recent recorded exchanges
// @Tags chat
// @Produce json
// @Param limit query int false "max turns" default(50)
// @Success 200 {object} types.HistoryResponse
// @Failure 404 {object} types.ErrorResponse
// @Router /history [get]
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	src, ok := h.svc.(HistorySource)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	turns, err := src.History(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if turns == nil {
		turns = []types.Turn{}
	}
	writeJSON(w, http.StatusOK, types.HistoryResponse{Turns: turns})
}
