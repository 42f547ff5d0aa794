package engine

import (
	"errors"
	"fmt"
)

// ErrNotLoaded is returned synchronously by Generate when no model is loaded.
var ErrNotLoaded = errors.New("no model loaded")

// ErrClosed is returned by every command after Close.
var ErrClosed = errors.New("engine closed")

// IsNotLoaded reports whether err indicates a missing model (409 at the HTTP layer).
func IsNotLoaded(err error) bool { return errors.Is(err, ErrNotLoaded) }

// LoadFailure classifies a LoadError.
type LoadFailure string

const (
	ModelLoadFailure       LoadFailure = "model_load_failure"
	ContextCreationFailure LoadFailure = "context_creation_failure"
)

// LoadError reports a failed LoadModel. The engine is left not loaded.
type LoadError struct {
	Kind LoadFailure
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case ContextCreationFailure:
		return fmt.Sprintf("create context for %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

func isLoadFailure(err error, kind LoadFailure) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Kind == kind
}

// IsModelLoadFailure reports whether the backend could not open or parse the model file.
func IsModelLoadFailure(err error) bool { return isLoadFailure(err, ModelLoadFailure) }

// IsContextCreationFailure reports whether the computation context could not be allocated.
func IsContextCreationFailure(err error) bool { return isLoadFailure(err, ContextCreationFailure) }

// Stage names the step of a session that failed.
type Stage string

const (
	StageTokenize Stage = "tokenize"
	StageDecode   Stage = "decode"
	StageLogits   Stage = "logits"
	StagePanic    Stage = "panic"
)

// GenerationError is carried by the terminal Error event of a failed session.
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err came from a failed session.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// ErrPromptTooLong is wrapped by a tokenize-stage failure when the prompt does
// not fit the context window.
var ErrPromptTooLong = errors.New("prompt exceeds context length")
