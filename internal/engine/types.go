package engine

// State is the lifecycle state of the engine's current (or last) session.
type State string

const (
	StateIdle      State = "idle"
	StatePrompting State = "prompting"
	StateDecoding  State = "decoding"
	StateSampling  State = "sampling"
	StateStopping  State = "stopping"
	StateFinished  State = "finished"
	StateError     State = "error"
)

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventToken EventKind = iota
	EventFinished
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason explains why a session finished.
type Reason string

const (
	ReasonEOS          Reason = "eos"
	ReasonMaxTokens    Reason = "max_tokens"
	ReasonStopSequence Reason = "stop_sequence"
	ReasonCancelled    Reason = "cancelled"
	ReasonContextFull  Reason = "context_full"
)

// StreamEvent is one item of a session's output. Token events carry Text;
// exactly one Finished or Error event ends every stream.
type StreamEvent struct {
	Kind EventKind
	Text string
	// Reason and Tokens are set on the terminal event.
	Reason Reason
	Tokens int
	Err    error
}

// Terminal reports whether e ends the stream.
func (e StreamEvent) Terminal() bool { return e.Kind != EventToken }

// Params controls one generation. MaxTokens is honoured as given, including 0.
type Params struct {
	// Temperature <= 0 selects greedy decoding.
	Temperature float32
	MaxTokens   int
	// StopSequences replaces the engine's configured set when non-nil.
	StopSequences []string
}

// Status is a point-in-time view of the engine.
type Status struct {
	State          State  `json:"state"`
	Backend        string `json:"backend"`
	Loaded         bool   `json:"loaded"`
	ModelName      string `json:"model_name,omitempty"`
	ModelPath      string `json:"model_path,omitempty"`
	ContextLength  int    `json:"context_length,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	Threads        int    `json:"threads,omitempty"`
	VocabSize      int    `json:"vocab_size,omitempty"`
	GPULayers      int    `json:"gpu_layers"`
	MemoryMB       int    `json:"memory_mb"`
	Generating     bool   `json:"generating"`
	SessionID      string `json:"session_id,omitempty"`
	TokensProduced int    `json:"tokens_produced"`
}
