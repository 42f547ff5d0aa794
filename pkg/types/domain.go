package types

// Model is a GGUF model file discovered on disk.
type Model struct {
	// File name including extension.
	// example: qwen2.5-7b-instruct-q4_k_m.gguf
	ID string `json:"id" example:"qwen2.5-7b-instruct-q4_k_m.gguf"`
	// Display name: the file name without extension.
	// example: qwen2.5-7b-instruct-q4_k_m
	Name string `json:"name" example:"qwen2.5-7b-instruct-q4_k_m"`
	// Absolute path to the model file.
	// example: /home/user/models/qwen2.5-7b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/qwen2.5-7b-instruct-q4_k_m.gguf"`
	// Quantization parsed from the file name, if recognisable.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Model family guessed from the file name.
	// example: qwen
	Family string `json:"family,omitempty" example:"qwen"`
	// File size in bytes.
	// example: 4683073952
	SizeBytes int64 `json:"size_bytes" example:"4683073952"`
	// Human readable size.
	// example: 4.4 GB
	Size string `json:"size" example:"4.4 GB"`
}
