package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Token is a vocabulary id as understood by the loaded model.
type Token int32

// ContextParams sizes the computation context created for a loaded model.
type ContextParams struct {
	ContextLength int
	BatchSize     int
	Threads       int
}

// Backend abstracts the native inference library. Implementations are chosen at
// construction time; see Open.
type Backend interface {
	// Name identifies the implementation in logs and status output.
	Name() string
	// LoadModel opens and parses a model file.
	LoadModel(path string) (Model, error)
}

// Model is an opaque loaded-model handle.
type Model interface {
	// NewContext allocates the fixed-size key/value working memory for the model.
	NewContext(p ContextParams) (Context, error)
	VocabSize() int
	// IsEOS reports whether tok ends generation.
	IsEOS(tok Token) bool
	// Tokenize converts text into token ids, parsing special control tokens.
	Tokenize(text string) ([]Token, error)
	// Detokenize renders a single token. The result may be empty.
	Detokenize(tok Token) string
	// GPULayers is the number of layers offloaded to a GPU; 0 means CPU only.
	GPULayers() int
	Close() error
}

// Context is the non-reentrant computation context of a Model. Callers must
// serialize every call on a Context.
type Context interface {
	// ResetCache drops all cached key/value state.
	ResetCache()
	// Decode submits tokens occupying positions [pos, pos+len(tokens)). Only the
	// last position produces logits.
	Decode(tokens []Token, pos int) error
	// Logits returns the logits of the last decoded position, sized to the vocabulary.
	Logits() ([]float32, error)
	// StateSize is the memory footprint of the context in bytes.
	StateSize() uint64
	Close() error
}

// ErrUnavailable reports that no inference library is usable in this process.
var ErrUnavailable = errors.New("backend: inference library unavailable")

// IsUnavailable reports whether err originates from a missing inference library.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// Kinds accepted by Open.
const (
	KindLlama    = "llamacpp"
	KindNone     = "none"
	KindScripted = "scripted"
)

// Options selects and configures a Backend.
type Options struct {
	Kind string
	// LibPath is the directory holding the llama.cpp shared libraries.
	LibPath string
	// GPULayers is the number of layers to offload; GPULayersAuto offloads all
	// of them when the library supports it and 0 keeps the model on the CPU.
	GPULayers int
}

// GPULayersAuto requests full offload when a GPU is usable.
const GPULayersAuto = -1

// Open constructs the backend named by opts.Kind. An empty kind selects llamacpp.
func Open(opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindLlama:
		return NewLlama(opts.LibPath, opts.GPULayers), nil
	case KindNone:
		return Unavailable{Reason: "disabled by configuration"}, nil
	case KindScripted:
		return NewEcho(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s|%s|%s)", opts.Kind, KindLlama, KindNone, KindScripted)
	}
}
