package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wishmaster/internal/engine"
	"wishmaster/pkg/types"
)

// TokenStream is the caller side of one generation session.
type TokenStream interface {
	ID() string
	Events() <-chan engine.StreamEvent
	Stop()
}

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	LoadModel(req types.LoadRequest) (types.StatusResponse, error)
	UnloadModel() types.StatusResponse
	Generate(req types.GenerateRequest) (TokenStream, error)
	// StopGeneration reports whether a session was running.
	StopGeneration() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
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
		}))
	}

	h := &handlers{svc: svc}
	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Post("/model/load", h.load)
	r.Post("/model/unload", h.unload)
	r.Post("/generate", h.generate)
	r.Post("/stop", h.stop)

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
		_, _ = w.Write([]byte("no model loaded"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

type handlers struct {
	svc Service
}

// models godoc
// @Summary      List models
// @Description  Lists *.gguf files found in the configured model directories.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

// status godoc
// @Summary      Engine status
// @Tags         engine
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// load godoc
// @Summary      Load a model
// @Description  Replaces the loaded model. Any running generation is stopped first.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.LoadRequest  true  "Model to load"
// @Success      200   {object}  types.StatusResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      422   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /model/load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lg, lvl := requestLogger(r)
	start := time.Now()
	st, err := h.svc.LoadModel(req)
	if err != nil {
		code := writeServiceError(w, err)
		if lvl >= LevelError {
			lg.Error().Err(err).Int("status", code).Str("model", req.Path+req.Model).Dur("dur", time.Since(start)).Msg("load failed")
		}
		return
	}
	if lvl >= LevelInfo {
		lg.Info().Str("model", st.ModelName).Int("ctx", st.ContextLength).Dur("dur", time.Since(start)).Msg("model loaded")
	}
	writeJSON(w, http.StatusOK, st)
}

// unload godoc
// @Summary      Unload the model
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /model/unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.UnloadModel())
}

// stop godoc
// @Summary      Stop the running generation
// @Tags         engine
// @Produce      json
// @Success      200  {object}  types.StopResponse
// @Router       /stop [post]
func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StopResponse{Stopped: h.svc.StopGeneration()})
}

// generate godoc
// @Summary      Generate a reply
// @Description  Streams newline-delimited GenerateChunk objects. The last line has done=true.
// @Tags         engine
// @Accept       json
// @Produce      application/x-ndjson
// @Param        body  body      types.GenerateRequest  true  "Prompt and sampling parameters"
// @Success      200   {object}  types.GenerateChunk
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Router       /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	lg, lvl := requestLogger(r)
	start := time.Now()
	stream, err := h.svc.Generate(req)
	if err != nil {
		code := writeServiceError(w, err)
		if lvl >= LevelError {
			lg.Error().Err(err).Int("status", code).Dur("dur", time.Since(start)).Msg("generate rejected")
		}
		return
	}
	if lvl >= LevelInfo {
		lg.Info().Str("session", stream.ID()).Bool("raw", req.Raw).Msg("generate start")
	}

	// Shutdown, client disconnect and the configured deadline all stop the session.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if generateTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, generateTimeout)
		defer cancelTimeout()
	}

	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flush()
	out := io.Writer(w)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: lg})
	}
	last := streamNDJSON(ctx, stream, json.NewEncoder(out), flush)
	if lvl >= LevelInfo {
		ev := lg.Info()
		if last.Error != "" {
			ev = lg.Error().Str("error", last.Error)
		}
		ev.Str("session", last.ID).Str("reason", last.Reason).Int("tokens", last.Tokens).
			Dur("dur", time.Since(start)).Msg("generate end")
	}
}

// streamNDJSON writes one line per stream event and returns the final line.
// When ctx ends the session is stopped and the stream is drained to its
// terminal event, which the engine delivers within one decode cycle.
func streamNDJSON(ctx context.Context, s TokenStream, enc *json.Encoder, flush func()) types.GenerateChunk {
	done := ctx.Done()
	broken := false
	for {
		select {
		case <-done:
			s.Stop()
			done = nil
		case ev, ok := <-s.Events():
			if !ok {
				return types.GenerateChunk{ID: s.ID(), Done: true, Reason: string(engine.ReasonCancelled)}
			}
			chunk := chunkFor(s.ID(), ev)
			if !broken {
				if err := enc.Encode(chunk); err != nil {
					broken = true
					s.Stop()
				} else {
					flush()
				}
			}
			if chunk.Done {
				return chunk
			}
		}
	}
}

func chunkFor(id string, ev engine.StreamEvent) types.GenerateChunk {
	switch ev.Kind {
	case engine.EventToken:
		return types.GenerateChunk{ID: id, Token: ev.Text}
	case engine.EventError:
		msg := "generation failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return types.GenerateChunk{ID: id, Done: true, Tokens: ev.Tokens, Error: msg}
	default:
		return types.GenerateChunk{ID: id, Done: true, Reason: string(ev.Reason), Tokens: ev.Tokens}
	}
}

// decodeJSON checks the content type, bounds the body and decodes it into v.
// It writes the error response itself and reports whether decoding succeeded.
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
