package e2e

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"wishmaster/internal/backend"
	"wishmaster/internal/config"
	"wishmaster/internal/engine"
	"wishmaster/internal/httpapi"
	"wishmaster/internal/sampling"
	"wishmaster/pkg/types"
)

// createTempModelsDir creates a directory holding placeholder .gguf files.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServer serves a real engine over sc, scanning modelsDir.
func newServer(t *testing.T, sc *backend.Scripted, modelsDir string) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = backend.KindScripted
	cfg.ModelsDirs = []string{modelsDir}
	eng := engine.New(engine.Config{Backend: sc, Threads: 2, Sampler: sampling.New(7)})
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewService(eng, cfg)))
	t.Cleanup(func() {
		srv.Close()
		_ = eng.Close()
	})
	return srv, eng
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// parseNDJSON returns the concatenated token text and the final chunk.
func parseNDJSON(t *testing.T, body []byte) (string, types.GenerateChunk) {
	t.Helper()
	var sb strings.Builder
	var last types.GenerateChunk
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c types.GenerateChunk
		if err := json.Unmarshal(line, &c); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		sb.WriteString(c.Token)
		last = c
	}
	if !last.Done {
		t.Fatalf("stream did not end with a done line: %s", body)
	}
	return sb.String(), last
}

// waitHTTP polls url until it answers with want.
func waitHTTP(url string, want int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		if resp, err := client.Get(url); err == nil {
			resp.Body.Close()
			if resp.StatusCode == want {
				return true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
