// Package cli implements the wishmaster command tree: serve, generate, chat,
// models and version.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wishmaster/internal/config"
	"wishmaster/internal/httpapi"
)

// Version is stamped at build time with -ldflags "-X wishmaster/internal/cli.Version=...".
var Version = "dev"

// app carries the resolved configuration and I/O shared by all commands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger

	stdin          io.Reader
	stdout, stderr io.Writer
	lookupEnv      func(string) (string, bool)
	registerer     prometheus.Registerer

	flags overrides
}

// overrides are bound to persistent flags and applied only when set.
type overrides struct {
	logLevel    string
	backend     string
	lib         string
	model       string
	modelsDirs  []string
	ctx         int
	threads     int
	gpuLayers   int
	temperature float64
	maxTokens   int
	mode        string
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		lookupEnv:  os.LookupEnv,
		registerer: prometheus.DefaultRegisterer,
		log:        zerolog.Nop(),
	}
}

// Execute runs the command tree against the process streams and returns the exit code.
func Execute() int {
	root := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the command tree over the given streams.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdin, stdout, stderr).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wishmaster",
		Short:         "Local LLM text generation over GGUF models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Config file (.yaml, .json or .toml)")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "Log level: debug|info|warn|error|off")
	pf.StringVar(&a.flags.backend, "backend", "", "Inference backend: llamacpp|none|scripted")
	pf.StringVar(&a.flags.lib, "lib", "", "Directory holding the llama.cpp shared libraries")
	pf.StringVarP(&a.flags.model, "model", "m", "", "Model file, or the name of a model in --models-dir")
	pf.StringSliceVar(&a.flags.modelsDirs, "models-dir", nil, "Directories scanned for *.gguf (repeatable)")
	pf.IntVar(&a.flags.ctx, "ctx", 0, "Context length in tokens (512-32768)")
	pf.IntVar(&a.flags.threads, "threads", 0, "Inference threads (default: number of CPUs)")
	pf.IntVar(&a.flags.gpuLayers, "gpu-layers", -1, "Layers offloaded to the GPU (-1 = all when available, 0 = CPU only)")
	pf.Float64Var(&a.flags.temperature, "temperature", 0.7, "Sampling temperature (0 = greedy)")
	pf.IntVar(&a.flags.maxTokens, "max-tokens", 0, "Maximum new tokens per reply (64-4096)")
	pf.StringVar(&a.flags.mode, "mode", "", "Prompt mode: chat|clone")

	root.AddCommand(a.serveCmd(), a.generateCmd(), a.chatCmd(), a.modelsCmd(), a.versionCmd())
	return root
}

// setup layers defaults, the config file, WISHMASTER_* variables and flags,
// validates the result and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadWithDefaults(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(a.lookupEnv); err != nil {
		return err
	}
	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { cfg.LogLevel = a.flags.logLevel })
	set("backend", func() { cfg.Backend = a.flags.backend })
	set("lib", func() { cfg.LibPath = a.flags.lib })
	set("model", func() { cfg.ModelPath = a.flags.model })
	set("models-dir", func() { cfg.ModelsDirs = a.flags.modelsDirs })
	set("ctx", func() { cfg.ContextLength = a.flags.ctx })
	set("threads", func() { cfg.Threads = a.flags.threads })
	set("gpu-layers", func() { n := a.flags.gpuLayers; cfg.GPULayers = &n })
	set("temperature", func() { t := a.flags.temperature; cfg.Temperature = &t })
	set("max-tokens", func() { cfg.MaxTokens = a.flags.maxTokens })
	set("mode", func() { cfg.Mode = a.flags.mode })
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.log = newLogger(a.stderr, cfg.LogLevel)
	httpapi.SetLogger(a.log)
	return nil
}

// newLogger writes human-readable records to w. Unknown levels fall back to info.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	switch {
	case strings.EqualFold(level, "off"):
		lvl = zerolog.Disabled
	case err != nil || lvl == zerolog.NoLevel:
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
