package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type result struct {
	stdout, stderr string
	err            error
}

// runCLI executes the command tree with an empty environment and isolated metrics.
func runCLI(t *testing.T, stdin string, env map[string]string, args ...string) result {
	t.Helper()
	var out, errb bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errb)
	a.lookupEnv = func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	a.registerer = prometheus.NewRegistry()
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	return result{stdout: out.String(), stderr: errb.String(), err: err}
}

// modelFile creates an empty model file and returns its path.
func modelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}
