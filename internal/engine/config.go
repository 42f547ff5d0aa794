package engine

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"wishmaster/internal/backend"
	"wishmaster/internal/prompt"
	"wishmaster/internal/sampling"
)

// Defaults applied when the corresponding Config or call arguments are unset.
const (
	DefaultContextLength = 2048
	DefaultBatchSize     = 512
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 512

	MaxContextLength = 32768
	// MaxTokensLimit caps a single request; larger values are clamped.
	MaxTokensLimit = 32768

	defaultProgressEvery = 16
)

// DefaultParams returns the caller-facing generation defaults.
func DefaultParams() Params {
	return Params{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
}

// Config carries the engine's collaborators and tunables.
type Config struct {
	// Backend is required; New substitutes an unavailable backend when nil.
	Backend backend.Backend
	// Threads defaults to runtime.NumCPU().
	Threads int
	// BatchSize bounds prompt chunks submitted per decode; defaults to 512.
	BatchSize int
	// StopSequences applies to requests that do not carry their own.
	// nil selects prompt.DefaultStopSequences; an empty non-nil slice disables stops.
	StopSequences []string
	// ProgressEvery publishes generation_progress every N tokens; negative disables.
	ProgressEvery int

	Logger    *zerolog.Logger
	Publisher EventPublisher
	Metrics   *Metrics
	// Sampler is shared by all sessions, which never overlap.
	Sampler *sampling.Policy
}

func (c Config) withDefaults() Config {
	if c.Backend == nil {
		c.Backend = backend.Unavailable{Reason: "no backend configured"}
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.StopSequences == nil {
		c.StopSequences = prompt.DefaultStopSequences()
	} else {
		c.StopSequences = append([]string(nil), c.StopSequences...)
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	if c.Sampler == nil {
		c.Sampler = sampling.New(time.Now().UnixNano())
	}
	return c
}
