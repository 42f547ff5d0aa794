package engine

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"wishmaster/internal/backend"
)

// modelContext pairs a loaded model with its computation context. Only the
// active session's worker calls into it while a session runs.
type modelContext struct {
	model backend.Model
	ctx   backend.Context

	path    string
	name    string
	ctxLen  int
	batch   int
	threads int
	vocab   int
	gpu     int

	// refreshed by the worker after each session so queries never touch the backend
	stateBytes atomic.Uint64
}

// openModelContext loads path and allocates its context. On failure nothing is
// left allocated.
func openModelContext(be backend.Backend, path string, p backend.ContextParams) (*modelContext, error) {
	mdl, err := be.LoadModel(path)
	if err != nil {
		return nil, &LoadError{Kind: ModelLoadFailure, Path: path, Err: err}
	}
	bctx, err := mdl.NewContext(p)
	if err != nil {
		_ = mdl.Close()
		return nil, &LoadError{Kind: ContextCreationFailure, Path: path, Err: err}
	}
	mc := &modelContext{
		model:   mdl,
		ctx:     bctx,
		path:    path,
		name:    displayName(path),
		ctxLen:  p.ContextLength,
		batch:   p.BatchSize,
		threads: p.Threads,
		vocab:   mdl.VocabSize(),
		gpu:     mdl.GPULayers(),
	}
	mc.stateBytes.Store(bctx.StateSize())
	return mc, nil
}

func (mc *modelContext) refreshState() { mc.stateBytes.Store(mc.ctx.StateSize()) }

func (mc *modelContext) memoryMB() int { return int(mc.stateBytes.Load() / (1024 * 1024)) }

// close releases the context before the model it was created from.
func (mc *modelContext) close() error {
	errCtx := mc.ctx.Close()
	errModel := mc.model.Close()
	if errCtx != nil {
		return errCtx
	}
	return errModel
}

// displayName is the file's base name without its extension.
func displayName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
