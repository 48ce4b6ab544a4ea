package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
)

// RequestModel makes id the live target. When id differs from the current
// target it clears the conversation and error, interrupts any generation,
// releases the committed engine in the background and, if a load of another
// model is in flight, queues id as pending. It never starts a load.
func (s *Session) RequestModel(id string) {
	s.mu.Lock()
	if id == s.requested {
		s.mu.Unlock()
		return
	}
	prev := s.requested
	s.requested = id
	s.targetSeq++
	s.convo = nil
	s.errMsg = ""
	s.progress = nil

	var interrupted engine.Engine
	if s.gen != nil {
		interrupted = s.gen.engine
		s.gen = nil
	}
	released, releasedID := s.eng, s.loaded
	s.eng, s.loaded = nil, ""
	if s.loading != "" {
		if s.loading != id {
			s.pending = id
		} else {
			s.pending = ""
		}
	}
	s.mu.Unlock()

	if interrupted != nil {
		if err := interrupted.InterruptGeneration(); err != nil {
			s.log.Warn().Err(err).Msg("interrupt on model switch")
		}
	}
	if released != nil {
		s.unloadDetached(releasedID, released)
	}
	s.emit(zerolog.InfoLevel, EventModelRequested, id, map[string]any{"previous": prev})
}

// Load creates an engine for the live target. While another load is in
// flight it only records the target as pending; the running load schedules a
// follow-up when it settles. It is a no-op when the target is already loaded.
//
// An engine created for a target that was superseded while loading is never
// committed: it is released in the background. A load failure is returned
// and, when the target is still live, recorded in the session error.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	target := s.requested
	if target == "" {
		s.mu.Unlock()
		return ErrNoModel
	}
	if s.loading != "" {
		s.pending = target
		s.mu.Unlock()
		return nil
	}
	if s.eng != nil && s.loaded == target {
		s.mu.Unlock()
		return nil
	}
	seq := s.targetSeq
	s.loading = target
	s.errMsg = ""
	s.progress = nil
	s.mu.Unlock()

	s.emit(zerolog.InfoLevel, EventLoadStart, target, nil)
	start := time.Now()
	eng, err := s.factory.Create(ctx, target, func(p engine.ProgressReport) {
		s.setProgress(seq, target, p)
	})
	dur := time.Since(start)
	loadDuration.Observe(dur.Seconds())

	s.mu.Lock()
	live := s.targetSeq == seq && !s.closed
	var discard engine.Engine
	switch {
	case err != nil:
		if live {
			s.errMsg = loadFailedPrefix + err.Error()
		}
	case !live:
		discard = eng
	default:
		s.eng = eng
		s.loaded = target
	}
	// the last progress report outlives the load; RequestModel and the
	// next Load clear it
	s.loading = ""
	if !live && !s.closed {
		s.pending = s.requested
	}
	followUp := ""
	if s.pending != "" {
		if s.pending != s.loaded && s.pending == s.requested && !s.closed {
			followUp = s.pending
		}
		s.pending = ""
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		loadsTotal.WithLabelValues("failed").Inc()
		s.emit(zerolog.WarnLevel, EventLoadFailed, target, map[string]any{"error": err.Error(), "live": live, "dur_ms": dur.Milliseconds()})
	case discard != nil:
		loadsTotal.WithLabelValues("discarded").Inc()
		s.emit(zerolog.InfoLevel, EventLoadDiscarded, target, map[string]any{"dur_ms": dur.Milliseconds()})
		s.unloadDetached(target, discard)
	default:
		loadsTotal.WithLabelValues("ready").Inc()
		s.emit(zerolog.InfoLevel, EventLoadReady, target, map[string]any{"dur_ms": dur.Milliseconds()})
	}

	if followUp != "" {
		s.emit(zerolog.InfoLevel, EventLoadFollowUp, followUp, nil)
		s.detach(func() {
			if err := s.Load(s.ctx); err != nil {
				s.log.Warn().Err(err).Str("model", followUp).Msg("follow-up load failed")
			}
		})
	}

	if err != nil {
		return loadError{modelID: target, err: err}
	}
	return nil
}

// setProgress records p if the load for seq is still the live one.
func (s *Session) setProgress(seq uint64, modelID string, p engine.ProgressReport) {
	s.mu.Lock()
	live := s.targetSeq == seq && s.loading == modelID
	if live {
		s.progress = &p
	}
	s.mu.Unlock()
	if live {
		s.emit(zerolog.DebugLevel, EventLoadProgress, modelID, map[string]any{"progress": p.Progress, "text": p.Text})
	}
}
