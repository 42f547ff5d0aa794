package cli

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"wishmaster/internal/backend"
	"wishmaster/internal/common/fsutil"
	"wishmaster/internal/engine"
	"wishmaster/internal/prompt"
	"wishmaster/internal/registry"
)

// newEngine opens the configured backend. Metrics are registered with reg when non-nil.
func (a *app) newEngine(reg prometheus.Registerer) (*engine.Engine, error) {
	be, err := backend.Open(backend.Options{
		Kind:      a.cfg.Backend,
		LibPath:   a.cfg.LibPath,
		GPULayers: a.cfg.GPULayersOr(backend.GPULayersAuto),
	})
	if err != nil {
		return nil, err
	}
	lg := a.log.With().Str("component", "engine").Logger()
	return engine.New(engine.Config{
		Backend:       be,
		Threads:       a.cfg.Threads,
		StopSequences: a.cfg.StopSequences,
		Logger:        &lg,
		Publisher:     logPublisher{log: lg},
		Metrics:       engine.NewMetrics(reg),
	}), nil
}

// resolveModel turns ref into a file path: an existing file wins, otherwise ref
// is looked up by id or name in the configured model directories.
func (a *app) resolveModel(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("no model configured: pass --model or set model_path")
	}
	if p, err := fsutil.ResolveFile(ref); err == nil {
		return p, nil
	}
	models, err := registry.NewGGUFScanner().ScanAll(a.cfg.ModelsDirs)
	if err != nil {
		a.log.Warn().Err(err).Msg("scan models")
	}
	if m, ok := registry.Find(models, ref); ok {
		return m.Path, nil
	}
	return "", fmt.Errorf("model %q not found in %s", ref, strings.Join(a.cfg.ModelsDirs, ", "))
}

func (a *app) loadModel(eng *engine.Engine, ref string) error {
	path, err := a.resolveModel(ref)
	if err != nil {
		return err
	}
	return eng.LoadModel(path, a.cfg.ContextLength)
}

func (a *app) params() engine.Params {
	maxTokens := a.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = engine.DefaultMaxTokens
	}
	return engine.Params{
		Temperature: float32(a.cfg.TemperatureOr(engine.DefaultTemperature)),
		MaxTokens:   maxTokens,
	}
}

func (a *app) builder(system string) prompt.Builder {
	mode, _ := prompt.ParseMode(a.cfg.Mode) // validated in setup
	return prompt.Builder{Mode: mode, System: system, HistoryTurns: a.cfg.HistoryTurns}
}

// logPublisher forwards engine notifications to the debug log.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e engine.Event) {
	ev := p.log.Debug().Str("event", e.Name)
	if e.Model != "" {
		ev = ev.Str("model", e.Model)
	}
	ev.Fields(e.Fields).Msg("engine event")
}
