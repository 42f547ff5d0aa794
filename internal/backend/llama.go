package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// The llama.cpp shared libraries are process-global; they are loaded at most once.
var (
	libOnce sync.Once
	libErr  error
	libDir  string
)

// Llama drives llama.cpp through yzma's ffi/purego bindings. The shared libraries are
// located at first use, so a binary without them installed still starts and simply
// reports ErrUnavailable on load.
type Llama struct {
	libPath   string
	gpuLayers int
}

// NewLlama returns a backend loading libraries from libPath (searched when
// empty) and offloading gpuLayers layers per model; see Options.GPULayers.
func NewLlama(libPath string, gpuLayers int) *Llama {
	return &Llama{libPath: libPath, gpuLayers: gpuLayers}
}

// allLayers exceeds the layer count of any supported model; llama.cpp clamps it.
const allLayers = 99

// Native calls replaced in tests, which run without the shared libraries.
var (
	decodeBatch = func(ctx llama.Context, ids []llama.Token) (int32, error) {
		return llama.Decode(ctx, llama.BatchGetOne(ids))
	}
	clearMemory = func(ctx llama.Context) error {
		mem, err := llama.GetMemory(ctx)
		if err != nil {
			return err
		}
		return llama.MemoryClear(mem, true)
	}
	gpuSupported = llama.SupportsGpuOffload
)

// offloadLayers resolves the configured layer count against GPU support.
func offloadLayers(configured int) int {
	switch {
	case configured == 0:
		return 0
	case !gpuSupported():
		return 0
	case configured < 0:
		return allLayers
	default:
		return configured
	}
}

func (l *Llama) Name() string { return KindLlama }

// LibDir returns the directory the libraries were loaded from, if any.
func (l *Llama) LibDir() string { return libDir }

func (l *Llama) ensureLib() error {
	libOnce.Do(func() {
		dir := resolveLibDir(l.libPath)
		if err := llama.Load(dir); err != nil {
			libErr = fmt.Errorf("%w: load llama.cpp from %s: %v", ErrUnavailable, dir, err)
			return
		}
		llama.Init()
		libDir = dir
	})
	return libErr
}

// resolveLibDir picks the first candidate directory that holds a llama shared library.
func resolveLibDir(configured string) string {
	if strings.TrimSpace(configured) != "" {
		if abs, err := filepath.Abs(configured); err == nil {
			return abs
		}
		return configured
	}
	candidates := []string{"./lib", "./lib/llama"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "lib"), filepath.Dir(exe))
	}
	candidates = append(candidates, "/usr/local/lib", "/opt/homebrew/lib")
	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, libFileName())); err == nil {
			if abs, err := filepath.Abs(dir); err == nil {
				return abs
			}
			return dir
		}
	}
	return "./lib"
}

func libFileName() string {
	switch runtime.GOOS {
	case "windows":
		return "llama.dll"
	case "darwin":
		return "libllama.dylib"
	default:
		return "libllama.so"
	}
}

func (l *Llama) LoadModel(path string) (Model, error) {
	if err := l.ensureLib(); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(path); err != nil {
		return nil, err
	} else if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	layers := offloadLayers(l.gpuLayers)
	params := llama.ModelDefaultParams()
	params.NGpuLayers = int32(layers)
	mdl, err := llama.ModelLoadFromFile(path, params)
	if err != nil && layers > 0 {
		// retry on the CPU, e.g. when the model does not fit in VRAM
		layers = 0
		params.NGpuLayers = 0
		mdl, err = llama.ModelLoadFromFile(path, params)
	}
	if err != nil {
		return nil, err
	}
	vocab := llama.ModelGetVocab(mdl)
	return &llamaModel{model: mdl, vocab: vocab, nVocab: int(llama.VocabNTokens(vocab)), gpuLayers: layers}, nil
}

type llamaModel struct {
	model     llama.Model
	vocab     llama.Vocab
	nVocab    int
	gpuLayers int
	closed    bool
}

func (m *llamaModel) GPULayers() int { return m.gpuLayers }

func (m *llamaModel) NewContext(p ContextParams) (Context, error) {
	cp := llama.ContextDefaultParams()
	cp.NCtx = uint32(p.ContextLength)
	cp.NBatch = uint32(p.BatchSize)
	if p.Threads > 0 {
		cp.NThreads = int32(p.Threads)
		cp.NThreadsBatch = int32(p.Threads)
	}
	lctx, err := llama.InitFromModel(m.model, cp)
	if err != nil {
		return nil, err
	}
	return &llamaContext{ctx: lctx, nVocab: m.nVocab}, nil
}

func (m *llamaModel) VocabSize() int { return m.nVocab }

func (m *llamaModel) IsEOS(tok Token) bool { return llama.VocabIsEOG(m.vocab, llama.Token(tok)) }

func (m *llamaModel) Tokenize(text string) ([]Token, error) {
	ids := llama.Tokenize(m.vocab, text, true, true)
	if len(ids) == 0 && text != "" {
		return nil, errors.New("tokenizer produced no tokens")
	}
	out := make([]Token, len(ids))
	for i, id := range ids {
		out[i] = Token(id)
	}
	return out, nil
}

func (m *llamaModel) Detokenize(tok Token) string {
	buf := make([]byte, 256)
	n := llama.TokenToPiece(m.vocab, llama.Token(tok), buf, 0, true)
	if n < 0 {
		// negative length is the required buffer size
		buf = make([]byte, -n)
		n = llama.TokenToPiece(m.vocab, llama.Token(tok), buf, 0, true)
	}
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (m *llamaModel) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	llama.ModelFree(m.model)
	return nil
}

type llamaContext struct {
	ctx      llama.Context
	resetErr error
	nVocab   int
	pos      int
	closed   bool
}

// ResetCache clears the KV memory in place. A failed clear is reported by the
// next Decode.
func (c *llamaContext) ResetCache() {
	c.pos = 0
	if c.closed {
		return
	}
	c.resetErr = clearMemory(c.ctx)
}

// Decode relies on the context tracking positions itself; pos is checked against
// that running count so a caller cannot silently skip or rewind.
func (c *llamaContext) Decode(tokens []Token, pos int) error {
	if c.resetErr != nil {
		return fmt.Errorf("clear memory: %w", c.resetErr)
	}
	if len(tokens) == 0 {
		return nil
	}
	if pos != c.pos {
		return fmt.Errorf("decode at position %d, context is at %d", pos, c.pos)
	}
	ids := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		ids[i] = llama.Token(t)
	}
	rc, err := decodeBatch(c.ctx, ids)
	if err != nil {
		return err
	}
	if rc != 0 {
		// 1: no KV slot for the batch, 2: aborted, negative: fatal
		return fmt.Errorf("llama_decode returned %d", rc)
	}
	c.pos += len(tokens)
	return nil
}

func (c *llamaContext) Logits() ([]float32, error) {
	raw, err := llama.GetLogitsIth(c.ctx, -1, c.nVocab)
	if err != nil {
		return nil, err
	}
	// the native buffer is reused by the next decode
	out := make([]float32, len(raw))
	copy(out, raw)
	return out, nil
}

func (c *llamaContext) StateSize() uint64 { return llama.StateGetSize(c.ctx) }

func (c *llamaContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	llama.Free(c.ctx)
	return nil
}
