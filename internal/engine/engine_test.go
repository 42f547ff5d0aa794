package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"wishmaster/internal/backend"
)

func TestGenerateABCThenEOS(t *testing.T) {
	sc := backend.NewScripted("A", "B", "C")
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", greedy(3))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	texts, last := tokenTexts(t, drain(t, st))
	if !reflect.DeepEqual(texts, []string{"A", "B", "C"}) {
		t.Fatalf("tokens = %q", texts)
	}
	if last.Kind != EventFinished || last.Tokens != 3 {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestStopSequenceNeverEmitted(t *testing.T) {
	sc := backend.NewScripted("go", " ", "on", "STOP", "more")
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", greedy(10, "STOP"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	texts, last := tokenTexts(t, drain(t, st))
	if !reflect.DeepEqual(texts, []string{"go", " ", "on"}) {
		t.Fatalf("tokens = %q", texts)
	}
	if last.Kind != EventFinished || last.Reason != ReasonStopSequence {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestStopSequenceAcrossFragments(t *testing.T) {
	sc := backend.NewScripted("Hi", " there", "<|im", "_end|>", "x")
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", Params{MaxTokens: 10}) // engine default stops
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	text, last := st.Collect()
	if text != "Hi there" {
		t.Fatalf("text = %q", text)
	}
	if last.Reason != ReasonStopSequence {
		t.Fatalf("reason = %q", last.Reason)
	}
}

func TestHeldPrefixReleasedOnEOS(t *testing.T) {
	sc := backend.NewScripted("a", "ST", "ay")
	e := newLoaded(t, sc, Config{})

	st, _ := e.Generate("", greedy(10, "STOP"))
	text, last := st.Collect()
	if text != "aSTay" || last.Reason != ReasonEOS || last.Tokens != 3 {
		t.Fatalf("text=%q terminal=%+v", text, last)
	}

	sc.SetScript("x", "ST")
	st, _ = e.Generate("", greedy(2, "STOP"))
	text, last = st.Collect()
	if text != "xST" || last.Reason != ReasonMaxTokens {
		t.Fatalf("held text lost at max_tokens: text=%q terminal=%+v", text, last)
	}
}

// A held prefix that turns out not to be a stop sequence is released together
// with the piece that disambiguates it, so one event can carry several tokens.
func TestHeldPiecesMergeIntoOneEvent(t *testing.T) {
	sc := backend.NewScripted("a", "<", "|", "b")
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("", Params{MaxTokens: 4}) // engine default stops
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	texts, last := tokenTexts(t, drain(t, st))
	if !reflect.DeepEqual(texts, []string{"a", "<|b"}) {
		t.Fatalf("tokens = %q", texts)
	}
	if last.Tokens != 4 || last.Reason != ReasonMaxTokens {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestNotLoadedIsSynchronous(t *testing.T) {
	sc := backend.NewScripted("A")
	e := New(Config{Backend: sc})
	defer e.Close()

	st, err := e.Generate("Hello", DefaultParams())
	if !IsNotLoaded(err) {
		t.Fatalf("want ErrNotLoaded, got %v", err)
	}
	if st != nil {
		t.Fatalf("stream returned without a model")
	}
	if e.IsGenerating() || sc.Decodes() != 0 {
		t.Fatalf("worker started: generating=%v decodes=%d", e.IsGenerating(), sc.Decodes())
	}
}

func TestExactlyMaxTokensEvents(t *testing.T) {
	sc := backend.NewScripted("x", "y")
	sc.Loop = true
	e := newLoaded(t, sc, Config{})

	for _, n := range []int{1, 7, 40} {
		st, err := e.Generate("Hello", greedy(n))
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		texts, last := tokenTexts(t, drain(t, st))
		if len(texts) != n || last.Reason != ReasonMaxTokens || last.Tokens != n {
			t.Fatalf("n=%d: got %d tokens, terminal %+v", n, len(texts), last)
		}
	}
}

func TestMaxTokensZero(t *testing.T) {
	sc := backend.NewScripted("A")
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", greedy(0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	texts, last := tokenTexts(t, drain(t, st))
	if len(texts) != 0 || last.Kind != EventFinished || last.Tokens != 0 {
		t.Fatalf("texts=%q terminal=%+v", texts, last)
	}
	if sc.Decodes() != 0 {
		t.Fatalf("backend decoded %d times", sc.Decodes())
	}
}

func TestNegativeAndHugeMaxTokens(t *testing.T) {
	e := New(Config{})
	if got := e.normalize(Params{MaxTokens: -5}).MaxTokens; got != 0 {
		t.Fatalf("negative max tokens -> %d", got)
	}
	if got := e.normalize(Params{MaxTokens: MaxTokensLimit * 4}).MaxTokens; got != MaxTokensLimit {
		t.Fatalf("huge max tokens -> %d", got)
	}
	if got := e.normalize(Params{Temperature: -1}).Temperature; got != 0 {
		t.Fatalf("negative temperature -> %v", got)
	}
}

func TestEmptyPromptAllowed(t *testing.T) {
	sc := backend.NewScripted("ok")
	e := newLoaded(t, sc, Config{})
	st, err := e.Generate("", greedy(5))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text, last := st.Collect(); text != "ok" || last.Reason != ReasonEOS {
		t.Fatalf("text=%q terminal=%+v", text, last)
	}
}

func TestCancellationWithinOneCycle(t *testing.T) {
	sc := backend.NewScripted("tick")
	sc.Loop = true
	var e *Engine
	var atStop int
	sc.OnDecode = func(call int) {
		if call == 5 {
			atStop = call
			e.StopGeneration()
		}
	}
	e = newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", greedy(1000))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	texts, last := tokenTexts(t, drain(t, st))
	if last.Kind != EventFinished || last.Reason != ReasonCancelled {
		t.Fatalf("terminal = %+v", last)
	}
	// call 1 decodes the prompt; calls 2..5 follow tokens 1..4
	if len(texts) != 4 || last.Tokens != 4 {
		t.Fatalf("got %d tokens after cancel at decode %d", len(texts), atStop)
	}
	if d := sc.Decodes(); d != 5 {
		t.Fatalf("decodes after cancellation: %d", d-5)
	}
}

func TestStopGenerationIdleIsNoop(t *testing.T) {
	e := newLoaded(t, backend.NewScripted("A"), Config{})
	e.StopGeneration()
	st, _ := e.Generate("Hello", greedy(3))
	if _, last := st.Collect(); last.Reason != ReasonEOS {
		t.Fatalf("stale cancellation leaked into new session: %+v", last)
	}
}

func TestPreemptionDoesNotInterleave(t *testing.T) {
	sc := backend.NewScripted("one")
	sc.Loop = true
	sc.StepDelay = time.Millisecond
	e := newLoaded(t, sc, Config{})

	first, err := e.Generate("Hello", greedy(10000))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	<-first.Events() // make sure it is running

	second, err := e.Generate("Hello", greedy(3))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	select {
	case <-first.Done():
	default:
		t.Fatalf("first session still running after Generate returned")
	}
	texts, last := tokenTexts(t, drain(t, first))
	if last.Reason != ReasonCancelled {
		t.Fatalf("first terminal = %+v", last)
	}
	if len(texts)+1 != last.Tokens {
		t.Fatalf("first stream: %d buffered tokens, %d produced", len(texts), last.Tokens)
	}
	texts, last = tokenTexts(t, drain(t, second))
	if !reflect.DeepEqual(texts, []string{"one", "one", "one"}) || last.Reason != ReasonMaxTokens {
		t.Fatalf("second: %q %+v", texts, last)
	}
}

func TestUnloadWhileGeneratingForcesTermination(t *testing.T) {
	sc := backend.NewScripted("z")
	sc.Loop = true
	sc.StepDelay = time.Millisecond
	e := newLoaded(t, sc, Config{})

	st, err := e.Generate("Hello", greedy(10000))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	<-st.Events()
	e.UnloadModel()

	select {
	case <-st.Done():
	default:
		t.Fatalf("UnloadModel returned before the session ended")
	}
	if _, last := tokenTexts(t, drain(t, st)); last.Reason != ReasonCancelled {
		t.Fatalf("terminal = %+v", last)
	}
	if e.IsModelLoaded() || e.LoadedModelName() != "" || e.MemoryUsageMB() != 0 {
		t.Fatalf("model still reported after unload")
	}
	if models, contexts := sc.Open(); models != 0 || contexts != 0 {
		t.Fatalf("leaked %d models, %d contexts", models, contexts)
	}
	if _, err := e.Generate("Hello", greedy(1)); !IsNotLoaded(err) {
		t.Fatalf("generate after unload: %v", err)
	}
}

func TestUnloadIdleIsNoop(t *testing.T) {
	pub := NewMemoryPublisher()
	e := New(Config{Backend: backend.NewScripted(), Publisher: pub})
	e.UnloadModel()
	e.UnloadModel()
	if n := len(pub.Events()); n != 0 {
		t.Fatalf("unexpected events: %v", pub.Names())
	}
}

func TestLoadFailuresLeaveEngineUnloaded(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		setup func(*backend.Scripted)
		check func(error) bool
	}{
		{"model", func(s *backend.Scripted) { s.LoadErr = boom }, IsModelLoadFailure},
		{"context", func(s *backend.Scripted) { s.ContextErr = boom }, IsContextCreationFailure},
	}
	for _, tc := range cases {
		sc := backend.NewScripted("A")
		tc.setup(sc)
		e := New(Config{Backend: sc})
		err := e.LoadModel(testModel, 128)
		if !tc.check(err) || !errors.Is(err, boom) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if e.IsModelLoaded() {
			t.Fatalf("%s: engine reports a model", tc.name)
		}
		if models, contexts := sc.Open(); models != 0 || contexts != 0 {
			t.Fatalf("%s: leaked %d models, %d contexts", tc.name, models, contexts)
		}
	}
}

func TestLoadFailureUnloadsPrevious(t *testing.T) {
	sc := backend.NewScripted("A")
	e := newLoaded(t, sc, Config{})
	sc.ContextErr = errors.New("oom")
	if err := e.LoadModel("/models/other.gguf", 128); !IsContextCreationFailure(err) {
		t.Fatalf("err = %v", err)
	}
	if e.IsModelLoaded() {
		t.Fatalf("previous model survived a failed load")
	}

	sc.ContextErr = nil
	for _, n := range []int{MaxContextLength + 1, -1} {
		if err := e.LoadModel(testModel, testCtxLen); err != nil {
			t.Fatalf("reload: %v", err)
		}
		if err := e.LoadModel("/models/other.gguf", n); !IsContextCreationFailure(err) {
			t.Fatalf("ctx %d: err = %v", n, err)
		}
		if e.IsModelLoaded() || e.LoadedModelName() != "" {
			t.Fatalf("ctx %d: previous model %q survived an out-of-range load", n, e.LoadedModelName())
		}
		if models, contexts := sc.Open(); models != 0 || contexts != 0 {
			t.Fatalf("ctx %d: leaked %d models, %d contexts", n, models, contexts)
		}
	}
}

func TestUnavailableBackend(t *testing.T) {
	e := New(Config{Backend: backend.Unavailable{Reason: "not installed"}})
	err := e.LoadModel(testModel, 0)
	if !backend.IsUnavailable(err) || !IsModelLoadFailure(err) {
		t.Fatalf("err = %v", err)
	}
	if e.Status().Backend != backend.KindNone {
		t.Fatalf("backend name = %q", e.Status().Backend)
	}
}

func TestContextLengthRange(t *testing.T) {
	e := New(Config{Backend: backend.NewScripted()})
	if err := e.LoadModel(testModel, MaxContextLength+1); !IsContextCreationFailure(err) {
		t.Fatalf("oversized context: %v", err)
	}
	if err := e.LoadModel(testModel, 0); err != nil {
		t.Fatalf("default context: %v", err)
	}
	if got := e.Status().ContextLength; got != DefaultContextLength {
		t.Fatalf("context length = %d", got)
	}
}

func TestLoadReplacesModel(t *testing.T) {
	sc := backend.NewScripted("A")
	e := newLoaded(t, sc, Config{})
	if err := e.LoadModel("/models/second.gguf", 128); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sc.Loads() != 2 {
		t.Fatalf("loads = %d", sc.Loads())
	}
	if models, contexts := sc.Open(); models != 1 || contexts != 1 {
		t.Fatalf("open models=%d contexts=%d", models, contexts)
	}
	if e.LoadedModelName() != "second" {
		t.Fatalf("name = %q", e.LoadedModelName())
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"/models/tiny-chat.Q4_K_M.gguf": "tiny-chat.Q4_K_M",
		"model.gguf":                    "model",
		"/x/noext":                      "noext",
		"/x/.hidden":                    ".hidden",
	}
	for in, want := range cases {
		if got := displayName(in); got != want {
			t.Fatalf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerationErrors(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name       string
		setup      func(*backend.Scripted)
		stage      Stage
		wantTokens []string
	}{
		{"tokenize", func(s *backend.Scripted) { s.TokenizeErr = boom }, StageTokenize, nil},
		{"prompt decode", func(s *backend.Scripted) { s.DecodeErr, s.DecodeErrAt = boom, 1 }, StageDecode, nil},
		{"token decode", func(s *backend.Scripted) { s.DecodeErr, s.DecodeErrAt = boom, 3 }, StageDecode, []string{"a", "b"}},
	}
	for _, tc := range cases {
		sc := backend.NewScripted("a", "b", "c")
		e := newLoaded(t, sc, Config{})
		tc.setup(sc)
		st, err := e.Generate("Hello", greedy(10))
		if err != nil {
			t.Fatalf("%s: generate: %v", tc.name, err)
		}
		texts, last := tokenTexts(t, drain(t, st))
		if last.Kind != EventError || !errors.Is(last.Err, boom) {
			t.Fatalf("%s: terminal = %+v", tc.name, last)
		}
		var ge *GenerationError
		if !errors.As(last.Err, &ge) || ge.Stage != tc.stage {
			t.Fatalf("%s: stage = %v", tc.name, last.Err)
		}
		if !reflect.DeepEqual(texts, tc.wantTokens) {
			t.Fatalf("%s: tokens = %q", tc.name, texts)
		}

		// the engine stays usable after a failed session
		sc.TokenizeErr, sc.DecodeErr = nil, nil
		st, _ = e.Generate("Hello", greedy(10))
		if text, last := st.Collect(); text != "abc" || last.Kind != EventFinished {
			t.Fatalf("%s: recovery: %q %+v", tc.name, text, last)
		}
	}
}

func TestPromptTooLong(t *testing.T) {
	sc := backend.NewScripted("a")
	e := newLoaded(t, sc, Config{})
	if err := e.LoadModel(testModel, 16); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st, _ := e.Generate(strings.Repeat("word ", 80), greedy(5))
	_, last := st.Collect()
	if last.Kind != EventError || !errors.Is(last.Err, ErrPromptTooLong) {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestContextFull(t *testing.T) {
	sc := backend.NewScripted("w")
	sc.Loop = true
	e := New(Config{Backend: sc})
	defer e.Close()
	if err := e.LoadModel(testModel, 6); err != nil {
		t.Fatalf("load: %v", err)
	}
	// BOS + 2 words occupy positions 0..2; tokens decode at 3, 4 and 5
	st, _ := e.Generate("a b", greedy(100))
	texts, last := tokenTexts(t, drain(t, st))
	if last.Reason != ReasonContextFull || len(texts) != 4 {
		t.Fatalf("tokens=%d terminal=%+v", len(texts), last)
	}
}

func TestPromptBatching(t *testing.T) {
	sc := backend.NewScripted("a")
	e := newLoaded(t, sc, Config{BatchSize: 4})
	// 10 words + BOS = 11 prompt tokens -> 3 batches, then one decode for "a"
	st, _ := e.Generate("1 2 3 4 5 6 7 8 9 10", greedy(5))
	if _, last := st.Collect(); last.Kind != EventFinished {
		t.Fatalf("terminal = %+v", last)
	}
	if d := sc.Decodes(); d != 4 {
		t.Fatalf("decodes = %d", d)
	}
}

func TestBackendPanicBecomesError(t *testing.T) {
	sc := backend.NewScripted("a")
	sc.OnDecode = func(call int) { panic("native crash") }
	e := newLoaded(t, sc, Config{})
	st, _ := e.Generate("Hello", greedy(5))
	_, last := st.Collect()
	var ge *GenerationError
	if last.Kind != EventError || !errors.As(last.Err, &ge) || ge.Stage != StagePanic {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestPublishedEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	sc := backend.NewScripted("a", "b", "c", "d")
	e := newLoaded(t, sc, Config{Publisher: pub, ProgressEvery: 2})
	st, _ := e.Generate("Hello", greedy(10))
	st.Collect()
	waitDone(t, st)
	e.UnloadModel()

	want := []string{
		EventModelLoaded, EventGenerationStarted,
		EventGenerationProgress, EventGenerationProgress,
		EventGenerationFinished, EventModelUnloaded,
	}
	if got := pub.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v", got)
	}
	fin := pub.Events()[4]
	if fin.Model != "tiny-chat.Q4_K_M" || fin.Fields["reason"] != string(ReasonEOS) || fin.Fields["tokens"] != 4 {
		t.Fatalf("finished event = %+v", fin)
	}
}

func TestStatusWhileGenerating(t *testing.T) {
	sc := backend.NewScripted("s")
	sc.Loop = true
	gate := make(chan struct{})
	release := make(chan struct{})
	sc.OnDecode = func(call int) {
		if call == 3 {
			close(gate)
			<-release
		}
	}
	e := newLoaded(t, sc, Config{Threads: 3})
	st, _ := e.Generate("Hello", greedy(100))
	<-gate
	s := e.Status()
	if !s.Generating || s.SessionID != st.ID() || s.TokensProduced != 2 || s.State != StateDecoding {
		t.Fatalf("status = %+v", s)
	}
	if !s.Loaded || s.ModelName != "tiny-chat.Q4_K_M" || s.ContextLength != testCtxLen || s.Threads != 3 || s.BatchSize != DefaultBatchSize {
		t.Fatalf("model status = %+v", s)
	}
	e.StopGeneration() // must not block while the worker is parked
	close(release)
	waitDone(t, st)
	if s := e.Status(); s.Generating || s.State != StateIdle {
		t.Fatalf("status after finish = %+v", s)
	}
	if st.State() != StateFinished {
		t.Fatalf("stream state = %q", st.State())
	}
}

func TestMemoryUsage(t *testing.T) {
	e := New(Config{Backend: backend.NewScripted()})
	defer e.Close()
	if e.MemoryUsageMB() != 0 {
		t.Fatalf("memory reported without a model")
	}
	// scripted state is 1 KiB per context position
	if err := e.LoadModel(testModel, 4096); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := e.MemoryUsageMB(); got != 4 {
		t.Fatalf("memory = %d MB", got)
	}
}

func TestStatusReportsGPULayers(t *testing.T) {
	sc := backend.NewScripted("A")
	sc.GPULayers = 99
	e := newLoaded(t, sc, Config{})
	if got := e.Status().GPULayers; got != 99 {
		t.Fatalf("gpu layers = %d", got)
	}
	e.UnloadModel()
	if got := e.Status().GPULayers; got != 0 {
		t.Fatalf("gpu layers after unload = %d", got)
	}
}

func TestCloseRejectsCommands(t *testing.T) {
	sc := backend.NewScripted("a")
	e := newLoaded(t, sc, Config{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Generate("x", greedy(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("generate after close: %v", err)
	}
	if err := e.LoadModel(testModel, testCtxLen); !errors.Is(err, ErrClosed) {
		t.Fatalf("load after close: %v", err)
	}
	if models, _ := sc.Open(); models != 0 {
		t.Fatalf("close leaked the model")
	}
}

func TestMetricsRecordSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newLoaded(t, backend.NewScripted("a", "b"), Config{Metrics: m})
	st, _ := e.Generate("Hello", greedy(10))
	st.Collect()
	waitDone(t, st)

	if got := testutil.ToFloat64(m.tokensTotal); got != 2 {
		t.Fatalf("tokens_total = %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal.WithLabelValues(string(ReasonEOS))); got != 1 {
		t.Fatalf("sessions_total{eos} = %v", got)
	}
	if got := testutil.ToFloat64(m.modelLoaded); got != 1 {
		t.Fatalf("model_loaded = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather: %d %v", n, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.token()
	m.session("eos", time.Second)
	m.load("ok", time.Second)
	m.loaded(true, 1)
}
