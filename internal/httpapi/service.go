package httpapi

import (
	"math"
	"strings"
	"time"

	"wishmaster/internal/common/fsutil"
	"wishmaster/internal/config"
	"wishmaster/internal/engine"
	"wishmaster/internal/prompt"
	"wishmaster/internal/registry"
	"wishmaster/pkg/types"
)

// EngineService adapts an engine.Engine and the model registry to Service.
// Request fields left unset fall back to the configuration it was built with.
type EngineService struct {
	eng     *engine.Engine
	cfg     config.Config
	scanner *registry.GGUFScanner
}

// NewService returns a Service backed by eng.
func NewService(eng *engine.Engine, cfg config.Config) *EngineService {
	return &EngineService{eng: eng, cfg: cfg, scanner: registry.NewGGUFScanner()}
}

func (s *EngineService) ListModels() []types.Model {
	models, err := s.scanner.ScanAll(s.cfg.ModelsDirs)
	if err != nil {
		zlog.Warn().Err(err).Msg("scan models")
	}
	if models == nil {
		models = []types.Model{}
	}
	return models
}

func (s *EngineService) Status() types.StatusResponse {
	st := s.eng.Status()
	return types.StatusResponse{
		State:          string(st.State),
		Backend:        st.Backend,
		Loaded:         st.Loaded,
		ModelName:      st.ModelName,
		ModelPath:      st.ModelPath,
		ContextLength:  st.ContextLength,
		Threads:        st.Threads,
		BatchSize:      st.BatchSize,
		VocabSize:      st.VocabSize,
		GPULayers:      st.GPULayers,
		MemoryMB:       st.MemoryMB,
		Generating:     st.Generating,
		SessionID:      st.SessionID,
		TokensProduced: st.TokensProduced,
		UptimeSeconds:  int64(s.eng.Uptime() / time.Second),
		ServerTimeUnix: time.Now().Unix(),
	}
}

func (s *EngineService) Ready() bool { return s.eng.IsModelLoaded() }

// LoadModel resolves req to a file, by path or by a discovered model's id or
// name, and loads it.
func (s *EngineService) LoadModel(req types.LoadRequest) (types.StatusResponse, error) {
	if req.ContextLength < 0 || req.ContextLength > engine.MaxContextLength {
		return s.Status(), badRequest("context_length must be within 0..%d", engine.MaxContextLength)
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		ref := strings.TrimSpace(req.Model)
		if ref == "" {
			return s.Status(), badRequest("path or model is required")
		}
		m, ok := registry.Find(s.ListModels(), ref)
		if !ok {
			return s.Status(), ErrModelNotFound(ref)
		}
		path = m.Path
	} else {
		p, err := fsutil.ExpandHome(path)
		if err != nil {
			return s.Status(), badRequest("path: %v", err)
		}
		path = p
	}
	ctxLen := req.ContextLength
	if ctxLen == 0 {
		ctxLen = s.cfg.ContextLength
	}
	err := s.eng.LoadModel(path, ctxLen)
	return s.Status(), err
}

func (s *EngineService) UnloadModel() types.StatusResponse {
	s.eng.UnloadModel()
	return s.Status()
}

// Generate builds the prompt for req and starts a session, replacing any
// session still running.
func (s *EngineService) Generate(req types.GenerateRequest) (TokenStream, error) {
	params, err := s.params(req)
	if err != nil {
		return nil, err
	}
	text := req.Prompt
	if !req.Raw {
		if text, err = s.buildPrompt(req); err != nil {
			return nil, err
		}
	}
	if s.eng.IsGenerating() {
		IncrementPreemption()
	}
	st, err := s.eng.Generate(text, params)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *EngineService) StopGeneration() bool {
	was := s.eng.IsGenerating()
	s.eng.StopGeneration()
	return was
}

func (s *EngineService) params(req types.GenerateRequest) (engine.Params, error) {
	temp := s.cfg.TemperatureOr(engine.DefaultTemperature)
	if req.Temperature != nil {
		t := *req.Temperature
		if math.IsNaN(t) || t < 0 || t > config.MaxTemperature {
			return engine.Params{}, badRequest("temperature must be within 0..%g", config.MaxTemperature)
		}
		temp = t
	}
	maxTokens := s.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = engine.DefaultMaxTokens
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 0 {
			return engine.Params{}, badRequest("max_tokens must not be negative")
		}
		maxTokens = *req.MaxTokens
	}
	return engine.Params{Temperature: float32(temp), MaxTokens: maxTokens, StopSequences: req.Stop}, nil
}

func (s *EngineService) buildPrompt(req types.GenerateRequest) (string, error) {
	modeName := req.Mode
	if modeName == "" {
		modeName = s.cfg.Mode
	}
	mode, err := prompt.ParseMode(modeName)
	if err != nil {
		return "", badRequest("%v", err)
	}
	h := prompt.NewMemoryHistory()
	for i, m := range req.History {
		role := prompt.Role(strings.ToLower(strings.TrimSpace(m.Role)))
		if role != prompt.RoleUser && role != prompt.RoleAssistant {
			return "", badRequest("history[%d]: role must be user or assistant", i)
		}
		h.Append(role, m.Content)
	}
	b := prompt.Builder{Mode: mode, System: req.System, HistoryTurns: s.cfg.HistoryTurns}
	return b.Build(h, req.Prompt), nil
}
