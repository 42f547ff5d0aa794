package httpapi

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"wishmaster/internal/backend"
	"wishmaster/internal/config"
	"wishmaster/internal/engine"
	"wishmaster/internal/sampling"
	"wishmaster/pkg/types"
)

// fakeStream replays a fixed event list. With hold set it emits nothing until
// Stop, then ends with a cancelled Finished event.
type fakeStream struct {
	id      string
	ch      chan engine.StreamEvent
	hold    bool
	stopped atomic.Bool
	once    sync.Once
}

func newFakeStream(events ...engine.StreamEvent) *fakeStream {
	s := &fakeStream{id: "sess-1", ch: make(chan engine.StreamEvent, len(events)+1)}
	for _, ev := range events {
		s.ch <- ev
	}
	close(s.ch)
	return s
}

func newHeldStream() *fakeStream {
	return &fakeStream{id: "sess-held", ch: make(chan engine.StreamEvent, 1), hold: true}
}

func (s *fakeStream) ID() string                        { return s.id }
func (s *fakeStream) Events() <-chan engine.StreamEvent { return s.ch }
func (s *fakeStream) Stop() {
	s.stopped.Store(true)
	if s.hold {
		s.once.Do(func() {
			s.ch <- engine.StreamEvent{Kind: engine.EventFinished, Reason: engine.ReasonCancelled}
			close(s.ch)
		})
	}
}

func tokenEv(text string) engine.StreamEvent {
	return engine.StreamEvent{Kind: engine.EventToken, Text: text}
}

func finishedEv(reason engine.Reason, tokens int) engine.StreamEvent {
	return engine.StreamEvent{Kind: engine.EventFinished, Reason: reason, Tokens: tokens}
}

type mockService struct {
	models  []types.Model
	status  types.StatusResponse
	ready   bool
	err     error
	stream  TokenStream
	lastGen types.GenerateRequest
	lastLd  types.LoadRequest
	running bool
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) LoadModel(req types.LoadRequest) (types.StatusResponse, error) {
	m.lastLd = req
	return m.status, m.err
}
func (m *mockService) UnloadModel() types.StatusResponse { return m.status }
func (m *mockService) StopGeneration() bool              { return m.running }
func (m *mockService) Generate(req types.GenerateRequest) (TokenStream, error) {
	m.lastGen = req
	if m.err != nil {
		return nil, m.err
	}
	if m.stream == nil {
		return newFakeStream(tokenEv("hi"), finishedEv(engine.ReasonEOS, 1)), nil
	}
	return m.stream, nil
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// readChunks parses an NDJSON body.
func readChunks(t *testing.T, body []byte) []types.GenerateChunk {
	t.Helper()
	var out []types.GenerateChunk
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var c types.GenerateChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad ndjson line %q: %v", sc.Text(), err)
		}
		out = append(out, c)
	}
	return out
}

func joinTokens(chunks []types.GenerateChunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Token)
	}
	return sb.String()
}

// newEngineMux wires a real engine over sc behind the HTTP layer.
func newEngineMux(t *testing.T, sc *backend.Scripted, mutate func(*config.Config)) (http.Handler, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = backend.KindScripted
	cfg.ModelsDirs = nil
	cfg.ContextLength = 4096
	if mutate != nil {
		mutate(&cfg)
	}
	eng := engine.New(engine.Config{Backend: sc, Threads: 2, Sampler: sampling.New(1)})
	t.Cleanup(func() { _ = eng.Close() })
	return NewMux(NewService(eng, cfg)), eng
}
