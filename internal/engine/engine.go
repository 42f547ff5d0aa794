package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wishmaster/internal/backend"
)

// Engine owns one loaded model and runs at most one generation at a time.
type Engine struct {
	// opMu serializes commands (load, unload, generate, close). It is never
	// taken by StopGeneration or the read-only queries.
	opMu sync.Mutex

	mu     sync.RWMutex
	mc     *modelContext
	active *Stream
	closed bool

	be        backend.Backend
	cfg       Config
	log       zerolog.Logger
	pub       EventPublisher
	metrics   *Metrics
	startTime time.Time
}

// New constructs an Engine from cfg, applying package defaults.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		be:        cfg.Backend,
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		pub:       cfg.Publisher,
		metrics:   cfg.Metrics,
		startTime: time.Now(),
	}
	e.metrics.loaded(false, 0)
	return e
}

// BackendName identifies the configured backend.
func (e *Engine) BackendName() string { return e.be.Name() }

// LoadModel loads path with a context of contextLength tokens (0 selects the
// default), replacing any loaded model. An active session is stopped first.
// On failure the engine is left with no model loaded.
func (e *Engine) LoadModel(path string, contextLength int) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.isClosed() {
		return ErrClosed
	}
	if contextLength == 0 {
		contextLength = DefaultContextLength
	}

	e.unloadLocked()

	if contextLength < 0 || contextLength > MaxContextLength {
		err := &LoadError{Kind: ContextCreationFailure, Path: path,
			Err: fmt.Errorf("context length %d outside 1..%d", contextLength, MaxContextLength)}
		e.metrics.load(string(ContextCreationFailure), 0)
		e.log.Error().Err(err).Str("model", path).Msg("model load failed")
		e.pub.Publish(Event{Name: EventModelLoadFailed, Model: path, Fields: map[string]any{"kind": string(ContextCreationFailure), "error": err.Error()}})
		return err
	}

	start := time.Now()
	e.log.Info().Str("model", path).Int("ctx", contextLength).Int("threads", e.cfg.Threads).Msg("loading model")
	mc, err := openModelContext(e.be, path, backend.ContextParams{
		ContextLength: contextLength,
		BatchSize:     e.cfg.BatchSize,
		Threads:       e.cfg.Threads,
	})
	dur := time.Since(start)
	if err != nil {
		kind := ModelLoadFailure
		if IsContextCreationFailure(err) {
			kind = ContextCreationFailure
		}
		e.metrics.load(string(kind), dur)
		e.log.Error().Err(err).Str("model", path).Dur("dur", dur).Msg("model load failed")
		e.pub.Publish(Event{Name: EventModelLoadFailed, Model: path, Fields: map[string]any{"kind": string(kind), "error": err.Error()}})
		return err
	}

	e.mu.Lock()
	e.mc = mc
	e.mu.Unlock()

	e.metrics.load("ok", dur)
	e.metrics.loaded(true, mc.stateBytes.Load())
	e.log.Info().Str("model", mc.name).Int("vocab", mc.vocab).Int("gpu_layers", mc.gpu).Int("memory_mb", mc.memoryMB()).Dur("dur", dur).Msg("model loaded")
	e.pub.Publish(Event{Name: EventModelLoaded, Model: mc.name, Fields: map[string]any{
		"path": path, "context_length": contextLength, "memory_mb": mc.memoryMB(),
	}})
	return nil
}

// UnloadModel stops and joins an active session, then releases the model. It
// is a no-op when nothing is loaded.
func (e *Engine) UnloadModel() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.unloadLocked()
}

// unloadLocked requires opMu.
func (e *Engine) unloadLocked() {
	e.stopActiveLocked()
	e.mu.Lock()
	mc := e.mc
	e.mc = nil
	e.mu.Unlock()
	if mc == nil {
		return
	}
	if err := mc.close(); err != nil {
		e.log.Warn().Err(err).Str("model", mc.name).Msg("release model")
	}
	e.metrics.loaded(false, 0)
	e.log.Info().Str("model", mc.name).Msg("model unloaded")
	e.pub.Publish(Event{Name: EventModelUnloaded, Model: mc.name, Fields: map[string]any{"path": mc.path}})
}

// Close stops any session and unloads the model. Later commands fail with ErrClosed.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.unloadLocked()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) IsModelLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mc != nil
}

// LoadedModelName is the display name of the loaded model, or "".
func (e *Engine) LoadedModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mc == nil {
		return ""
	}
	return e.mc.name
}

// MemoryUsageMB is the backend-reported context state size, 0 when not loaded.
func (e *Engine) MemoryUsageMB() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mc == nil {
		return 0
	}
	return e.mc.memoryMB()
}

// Uptime is the time since New.
func (e *Engine) Uptime() time.Duration { return time.Since(e.startTime) }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Status{State: StateIdle, Backend: e.be.Name()}
	if mc := e.mc; mc != nil {
		s.Loaded = true
		s.ModelName = mc.name
		s.ModelPath = mc.path
		s.ContextLength = mc.ctxLen
		s.BatchSize = mc.batch
		s.Threads = mc.threads
		s.VocabSize = mc.vocab
		s.GPULayers = mc.gpu
		s.MemoryMB = mc.memoryMB()
	}
	if st := e.active; st != nil {
		s.Generating = true
		s.State = st.State()
		s.SessionID = st.ID()
		s.TokensProduced = st.Tokens()
	}
	return s
}
