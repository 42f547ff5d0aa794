package engine

import (
	"fmt"
	"math"
	"time"
)

// Generate starts a session for prompt and returns its stream immediately. It
// fails synchronously with ErrNotLoaded when no model is loaded, in which case
// no worker is started. An active session is cancelled and joined first, so its
// terminal event precedes anything on the new stream.
func (e *Engine) Generate(prompt string, p Params) (*Stream, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.RLock()
	mc, closed := e.mc, e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if mc == nil {
		return nil, ErrNotLoaded
	}

	e.stopActiveLocked()

	p = e.normalize(p)
	st := newStream(eventCapacity(p.MaxTokens, mc.ctxLen))
	sess := &session{
		mc:     mc,
		st:     st,
		params: p,
		policy: e.cfg.Sampler,
		log:    e.log.With().Str("session", st.ID()).Logger(),
	}
	sess.onToken = func(n int) {
		e.metrics.token()
		if e.cfg.ProgressEvery > 0 && n%e.cfg.ProgressEvery == 0 {
			e.pub.Publish(Event{Name: EventGenerationProgress, Model: mc.name, Fields: map[string]any{
				"session": st.ID(), "tokens": n, "max": p.MaxTokens,
			}})
		}
	}

	e.mu.Lock()
	e.active = st
	e.mu.Unlock()

	go e.work(sess, prompt)
	return st, nil
}

// StopGeneration requests cancellation of the active session. It never blocks
// and is a no-op when idle.
func (e *Engine) StopGeneration() {
	e.mu.RLock()
	st := e.active
	e.mu.RUnlock()
	if st != nil {
		st.Stop()
	}
}

// IsGenerating reports whether a session is running.
func (e *Engine) IsGenerating() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active != nil
}

// stopActiveLocked cancels and joins the active session. Requires opMu.
func (e *Engine) stopActiveLocked() {
	e.mu.RLock()
	st := e.active
	e.mu.RUnlock()
	if st == nil {
		return
	}
	st.Stop()
	st.Wait()
}

func (e *Engine) normalize(p Params) Params {
	if p.Temperature < 0 || math.IsNaN(float64(p.Temperature)) {
		p.Temperature = 0
	}
	if p.MaxTokens < 0 {
		p.MaxTokens = 0
	}
	if p.MaxTokens > MaxTokensLimit {
		e.log.Warn().Int("requested", p.MaxTokens).Int("limit", MaxTokensLimit).Msg("max_tokens clamped")
		p.MaxTokens = MaxTokensLimit
	}
	if p.StopSequences == nil {
		p.StopSequences = e.cfg.StopSequences
	}
	return p
}

// work runs sess on the worker goroutine and always delivers exactly one
// terminal event before closing the stream.
func (e *Engine) work(sess *session, prompt string) {
	st := sess.st
	mc := sess.mc
	log := sess.log
	start := time.Now()
	log.Info().Str("model", mc.name).Int("max_tokens", sess.params.MaxTokens).
		Float32("temperature", sess.params.Temperature).Msg("generation started")
	e.pub.Publish(Event{Name: EventGenerationStarted, Model: mc.name, Fields: map[string]any{"session": st.ID()}})

	reason, err := e.runRecovered(sess, prompt)
	mc.refreshState()
	tokens := st.Tokens()
	dur := time.Since(start)

	var final StreamEvent
	if err != nil {
		st.setState(StateError)
		final = StreamEvent{Kind: EventError, Err: err, Tokens: tokens}
		e.metrics.session("error", dur)
		log.Error().Err(err).Int("tokens", tokens).Dur("dur", dur).Msg("generation failed")
		e.pub.Publish(Event{Name: EventGenerationError, Model: mc.name, Fields: map[string]any{
			"session": st.ID(), "error": err.Error(), "tokens": tokens,
		}})
	} else {
		st.setState(StateFinished)
		final = StreamEvent{Kind: EventFinished, Reason: reason, Tokens: tokens}
		e.metrics.session(string(reason), dur)
		log.Info().Str("reason", string(reason)).Int("tokens", tokens).Dur("dur", dur).Msg("generation finished")
		e.pub.Publish(Event{Name: EventGenerationFinished, Model: mc.name, Fields: map[string]any{
			"session": st.ID(), "reason": string(reason), "tokens": tokens,
		}})
	}
	e.metrics.loaded(true, mc.stateBytes.Load())

	st.events <- final
	close(st.events)

	e.mu.Lock()
	if e.active == st {
		e.active = nil
	}
	e.mu.Unlock()
	close(st.done)
}

// runRecovered converts a backend panic into a session error so the stream
// still terminates.
func (e *Engine) runRecovered(sess *session, prompt string) (reason Reason, err error) {
	defer func() {
		if r := recover(); r != nil {
			reason, err = "", &GenerationError{Stage: StagePanic, Err: fmt.Errorf("%v", r)}
		}
	}()
	return sess.run(prompt)
}
