package engine

import (
	"testing"
	"time"

	"wishmaster/internal/backend"
	"wishmaster/internal/sampling"
)

const (
	testModel  = "/models/tiny-chat.Q4_K_M.gguf"
	testCtxLen = 4096
)

// newLoaded returns an engine over sc with testModel loaded.
func newLoaded(t *testing.T, sc *backend.Scripted, cfg Config) *Engine {
	t.Helper()
	cfg.Backend = sc
	if cfg.Sampler == nil {
		cfg.Sampler = sampling.New(1)
	}
	e := New(cfg)
	t.Cleanup(func() { _ = e.Close() })
	if err := e.LoadModel(testModel, testCtxLen); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}

// greedy returns params for deterministic generation with explicit stops.
func greedy(maxTokens int, stops ...string) Params {
	if stops == nil {
		stops = []string{}
	}
	return Params{Temperature: 0, MaxTokens: maxTokens, StopSequences: stops}
}

// drain reads every event of st, failing the test if the stream stalls.
func drain(t *testing.T, st *Stream) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream %s did not terminate; got %d events", st.ID(), len(out))
		}
	}
}

// tokenTexts returns the texts of token events and the single terminal event.
func tokenTexts(t *testing.T, evs []StreamEvent) ([]string, StreamEvent) {
	t.Helper()
	if len(evs) == 0 {
		t.Fatalf("no events")
	}
	var texts []string
	for i, ev := range evs {
		if ev.Terminal() {
			if i != len(evs)-1 {
				t.Fatalf("terminal event at %d of %d", i, len(evs))
			}
			continue
		}
		texts = append(texts, ev.Text)
	}
	last := evs[len(evs)-1]
	if !last.Terminal() {
		t.Fatalf("stream ended without a terminal event: %+v", last)
	}
	return texts, last
}

func waitDone(t *testing.T, st *Stream) {
	t.Helper()
	select {
	case <-st.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("worker for %s did not exit", st.ID())
	}
}
