package types

// ChatMessage is a prior transcript turn supplied by the client.
type ChatMessage struct {
	// Either "user" or "assistant".
	// example: user
	Role string `json:"role" example:"user"`
	// example: What is a GGUF file?
	Content string `json:"content" example:"What is a GGUF file?"`
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// The user's message, or the full prompt when Raw is set.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Send Prompt to the model verbatim instead of wrapping it in the chat template.
	Raw bool `json:"raw,omitempty"`
	// Earlier turns of the conversation, oldest first.
	History []ChatMessage `json:"history,omitempty"`
	// Prompt preamble: chat or clone.
	// example: chat
	Mode string `json:"mode,omitempty" example:"chat"`
	// Overrides the system preamble.
	System string `json:"system,omitempty"`
	// Sampling temperature; 0 is greedy. Server default when omitted.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Maximum number of new tokens. Server default when omitted.
	// example: 128
	MaxTokens *int `json:"max_tokens,omitempty" example:"128"`
	// Stop sequences replacing the server's set.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
}

// GenerateChunk is one NDJSON line of a /generate response. Token lines carry
// Token; the last line has Done set together with Reason or Error.
type GenerateChunk struct {
	// Session id shared by all lines of one response.
	// example: 0b6c5f6e-3c1e-4c55-9a43-8f0f3c7f2a11
	ID string `json:"id" example:"0b6c5f6e-3c1e-4c55-9a43-8f0f3c7f2a11"`
	// example: Hello
	Token string `json:"token,omitempty" example:"Hello"`
	Done  bool   `json:"done,omitempty"`
	// Finish reason: eos, max_tokens, stop_sequence, cancelled, context_full.
	// example: eos
	Reason string `json:"reason,omitempty" example:"eos"`
	// Tokens sampled in this session (final line only).
	// example: 42
	Tokens int    `json:"tokens,omitempty" example:"42"`
	Error  string `json:"error,omitempty"`
}

// LoadRequest is the body of POST /model/load. Either Path or Model is required.
type LoadRequest struct {
	// example: /home/user/models/qwen2.5-7b-instruct-q4_k_m.gguf
	Path string `json:"path,omitempty" example:"/home/user/models/qwen2.5-7b-instruct-q4_k_m.gguf"`
	// Id or name of a discovered model.
	// example: qwen2.5-7b-instruct-q4_k_m
	Model string `json:"model,omitempty" example:"qwen2.5-7b-instruct-q4_k_m"`
	// Context length in tokens; server default when omitted.
	// example: 4096
	ContextLength int `json:"context_length,omitempty" example:"4096"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status and the model endpoints.
type StatusResponse struct {
	// Session state: idle, prompting, decoding, sampling, stopping.
	// example: idle
	State string `json:"state" example:"idle"`
	// Inference backend: llamacpp, none or scripted.
	// example: llamacpp
	Backend string `json:"backend" example:"llamacpp"`
	Loaded  bool   `json:"loaded"`
	// example: qwen2.5-7b-instruct-q4_k_m
	ModelName string `json:"model_name,omitempty" example:"qwen2.5-7b-instruct-q4_k_m"`
	ModelPath string `json:"model_path,omitempty"`
	// example: 4096
	ContextLength int `json:"context_length,omitempty" example:"4096"`
	// example: 8
	Threads   int `json:"threads,omitempty" example:"8"`
	BatchSize int `json:"batch_size,omitempty"`
	VocabSize int `json:"vocab_size,omitempty"`
	// Layers offloaded to the GPU; 0 when the model runs on the CPU.
	// example: 99
	GPULayers int `json:"gpu_layers" example:"99"`
	// Backend-reported context state size.
	// example: 512
	MemoryMB   int    `json:"memory_mb" example:"512"`
	Generating bool   `json:"generating"`
	SessionID  string `json:"session_id,omitempty"`
	// example: 17
	TokensProduced int `json:"tokens_produced"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// StopResponse is returned by POST /stop.
type StopResponse struct {
	// Whether a session was running when the request arrived.
	Stopped bool `json:"stopped"`
}
