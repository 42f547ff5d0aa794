package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service and CLI.
// Zero values mean "unspecified"; Default supplies the baseline and files,
// environment and flags are layered on top in that order.
type Config struct {
	Addr       string   `json:"addr" yaml:"addr" toml:"addr"`
	Backend    string   `json:"backend" yaml:"backend" toml:"backend"`
	LibPath    string   `json:"lib_path" yaml:"lib_path" toml:"lib_path"`
	ModelPath  string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	ModelsDirs []string `json:"models_dirs" yaml:"models_dirs" toml:"models_dirs"`

	ContextLength int      `json:"context_length" yaml:"context_length" toml:"context_length"`
	Threads       int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers     *int     `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"` // -1 all when usable, 0 CPU only; nil means -1
	Temperature   *float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	StopSequences []string `json:"stop_sequences" yaml:"stop_sequences" toml:"stop_sequences"`

	LogLevel               string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins            []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes           int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	GenerateTimeoutSeconds int64    `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`

	HistoryTurns int    `json:"history_turns" yaml:"history_turns" toml:"history_turns"`
	Mode         string `json:"mode" yaml:"mode" toml:"mode"`
}

// Ranges accepted by Validate.
const (
	MinContextLength = 512
	MaxContextLength = 32768
	MinMaxTokens     = 64
	MaxMaxTokens     = 4096
	MaxTemperature   = 2.0
)

// DefaultModelsDirs are scanned for *.gguf files when none are configured.
func DefaultModelsDirs() []string {
	return []string{"~/models", "~/Downloads", "~/.cache/llama.cpp", "/usr/share/llama/models"}
}

// Default returns the baseline configuration.
func Default() Config {
	temp := 0.7
	return Config{
		Addr:          "127.0.0.1:8080",
		Backend:       "llamacpp",
		ModelsDirs:    DefaultModelsDirs(),
		ContextLength: 2048,
		Temperature:   &temp,
		MaxTokens:     512,
		LogLevel:      "info",
		MaxBodyBytes:  1 << 20,
		HistoryTurns:  10,
		Mode:          "chat",
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithDefaults reads path (when non-empty) over Default().
func LoadWithDefaults(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	fileCfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.Merge(fileCfg)
	return cfg, nil
}

// Merge copies every specified (non-zero) field of o into c.
func (c *Config) Merge(o Config) {
	setStr(&c.Addr, o.Addr)
	setStr(&c.Backend, o.Backend)
	setStr(&c.LibPath, o.LibPath)
	setStr(&c.ModelPath, o.ModelPath)
	setStr(&c.LogLevel, o.LogLevel)
	setStr(&c.Mode, o.Mode)
	if o.ModelsDirs != nil {
		c.ModelsDirs = append([]string(nil), o.ModelsDirs...)
	}
	if o.StopSequences != nil {
		c.StopSequences = append([]string(nil), o.StopSequences...)
	}
	if o.CORSOrigins != nil {
		c.CORSOrigins = append([]string(nil), o.CORSOrigins...)
	}
	if o.ContextLength != 0 {
		c.ContextLength = o.ContextLength
	}
	if o.Threads != 0 {
		c.Threads = o.Threads
	}
	if o.Temperature != nil {
		t := *o.Temperature
		c.Temperature = &t
	}
	if o.GPULayers != nil {
		n := *o.GPULayers
		c.GPULayers = &n
	}
	if o.MaxTokens != 0 {
		c.MaxTokens = o.MaxTokens
	}
	if o.MaxBodyBytes != 0 {
		c.MaxBodyBytes = o.MaxBodyBytes
	}
	if o.GenerateTimeoutSeconds != 0 {
		c.GenerateTimeoutSeconds = o.GenerateTimeoutSeconds
	}
	if o.HistoryTurns != 0 {
		c.HistoryTurns = o.HistoryTurns
	}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// TemperatureOr returns the configured temperature or def when unset.
func (c Config) TemperatureOr(def float64) float64 {
	if c.Temperature == nil {
		return def
	}
	return *c.Temperature
}

// GPULayersOr returns the configured GPU layer count or def when unset.
func (c Config) GPULayersOr(def int) int {
	if c.GPULayers == nil {
		return def
	}
	return *c.GPULayers
}

// Validate checks ranges. Zero numeric values are accepted as "use default".
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "", "llamacpp", "none", "scripted":
	default:
		return fmt.Errorf("backend %q: want llamacpp|none|scripted", c.Backend)
	}
	switch strings.ToLower(c.Mode) {
	case "", "chat", "clone":
	default:
		return fmt.Errorf("mode %q: want chat|clone", c.Mode)
	}
	if c.ContextLength != 0 && (c.ContextLength < MinContextLength || c.ContextLength > MaxContextLength) {
		return fmt.Errorf("context_length %d outside %d..%d", c.ContextLength, MinContextLength, MaxContextLength)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > MaxTemperature) {
		return fmt.Errorf("temperature %.2f outside 0..%.1f", *c.Temperature, MaxTemperature)
	}
	if c.MaxTokens != 0 && (c.MaxTokens < MinMaxTokens || c.MaxTokens > MaxMaxTokens) {
		return fmt.Errorf("max_tokens %d outside %d..%d", c.MaxTokens, MinMaxTokens, MaxMaxTokens)
	}
	if c.GPULayers != nil && *c.GPULayers < -1 {
		return fmt.Errorf("gpu_layers %d: use -1 for all layers, 0 for CPU only", *c.GPULayers)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads %d must not be negative", c.Threads)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes %d must not be negative", c.MaxBodyBytes)
	}
	if c.GenerateTimeoutSeconds < 0 {
		return fmt.Errorf("generate_timeout_seconds %d must not be negative", c.GenerateTimeoutSeconds)
	}
	if c.HistoryTurns < -1 {
		return fmt.Errorf("history_turns %d: use -1 to disable history", c.HistoryTurns)
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvAddr        = "WISHMASTER_ADDR"
	EnvBackend     = "WISHMASTER_BACKEND"
	EnvLibPath     = "WISHMASTER_LIB"
	EnvModel       = "WISHMASTER_MODEL"
	EnvModelsDirs  = "WISHMASTER_MODELS_DIRS"
	EnvContext     = "WISHMASTER_CTX"
	EnvThreads     = "WISHMASTER_THREADS"
	EnvGPULayers   = "WISHMASTER_GPU_LAYERS"
	EnvTemperature = "WISHMASTER_TEMPERATURE"
	EnvMaxTokens   = "WISHMASTER_MAX_TOKENS"
	EnvLogLevel    = "WISHMASTER_LOG_LEVEL"
	EnvCORSOrigins = "WISHMASTER_CORS_ORIGINS"
	EnvMode        = "WISHMASTER_MODE"
)

// ApplyEnv overlays WISHMASTER_* variables found through lookup (os.LookupEnv
// when nil). List values are comma separated.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvAddr); ok {
		c.Addr = v
	}
	if v, ok := get(EnvBackend); ok {
		c.Backend = v
	}
	if v, ok := get(EnvLibPath); ok {
		c.LibPath = v
	}
	if v, ok := get(EnvModel); ok {
		c.ModelPath = v
	}
	if v, ok := get(EnvModelsDirs); ok {
		c.ModelsDirs = SplitList(v)
	}
	if v, ok := get(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := get(EnvCORSOrigins); ok {
		c.CORSOrigins = SplitList(v)
	}
	if v, ok := get(EnvMode); ok {
		c.Mode = v
	}
	for _, iv := range []struct {
		key string
		dst *int
	}{{EnvContext, &c.ContextLength}, {EnvThreads, &c.Threads}, {EnvMaxTokens, &c.MaxTokens}} {
		if v, ok := get(iv.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", iv.key, err)
			}
			*iv.dst = n
		}
	}
	if v, ok := get(EnvGPULayers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGPULayers, err)
		}
		c.GPULayers = &n
	}
	if v, ok := get(EnvTemperature); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTemperature, err)
		}
		c.Temperature = &f
	}
	return nil
}

// SplitList splits a comma separated value, trimming blanks and dropping empties.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
