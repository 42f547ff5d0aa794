package backend

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Reserved ids of the scripted vocabulary.
const (
	ScriptedBOS Token = 0
	ScriptedEOS Token = 1
)

// Scripted is a deterministic in-process backend. Each generation step yields the
// next piece of its script as an overwhelming logit, so any sampling policy picks
// it. It backs the tests and the "scripted" backend kind.
type Scripted struct {
	mu sync.Mutex

	vocab  []string
	ids    map[string]Token
	script []Token

	// Loop repeats the script forever instead of ending with EOS.
	Loop bool
	// Echo replaces the script with the words of the last user turn of each prompt.
	Echo bool
	// RequireFile makes LoadModel fail for paths that do not exist on disk.
	RequireFile bool
	// GPULayers is reported by models loaded afterwards.
	GPULayers int

	LoadErr     error
	ContextErr  error
	TokenizeErr error
	// DecodeErr is returned by the DecodeErrAt-th Decode call (1-based) of a context.
	DecodeErr   error
	DecodeErrAt int

	// StepDelay slows every Decode call.
	StepDelay time.Duration
	// OnDecode observes every Decode call with its 1-based index within the context.
	OnDecode func(call int)

	loads        int
	openModels   int
	openContexts int
	decodes      int
}

// NewScripted returns a backend whose models emit pieces in order and then EOS.
func NewScripted(pieces ...string) *Scripted {
	s := &Scripted{vocab: []string{"", ""}, ids: map[string]Token{}}
	s.SetScript(pieces...)
	return s
}

// NewEcho returns a scripted backend that answers with the last user message.
func NewEcho() *Scripted {
	s := NewScripted()
	s.Echo = true
	return s
}

func (s *Scripted) Name() string { return KindScripted }

// SetScript replaces the pieces emitted by subsequent generations.
func (s *Scripted) SetScript(pieces ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = s.script[:0]
	for _, p := range pieces {
		s.script = append(s.script, s.intern(p))
	}
}

func (s *Scripted) intern(piece string) Token {
	if id, ok := s.ids[piece]; ok {
		return id
	}
	id := Token(len(s.vocab))
	s.vocab = append(s.vocab, piece)
	s.ids[piece] = id
	return id
}

// Loads is the number of successful LoadModel calls.
func (s *Scripted) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Open reports how many models and contexts are currently allocated.
func (s *Scripted) Open() (models, contexts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openModels, s.openContexts
}

// Decodes is the total number of Decode calls across all contexts.
func (s *Scripted) Decodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodes
}

func (s *Scripted) LoadModel(path string) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty model path")
	}
	if s.RequireFile {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}
	s.loads++
	s.openModels++
	return &scriptedModel{b: s, gpuLayers: max(s.GPULayers, 0)}, nil
}

type scriptedModel struct {
	b         *Scripted
	gpuLayers int
	closed    bool
}

func (m *scriptedModel) GPULayers() int { return m.gpuLayers }

func (m *scriptedModel) NewContext(p ContextParams) (Context, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.b.ContextErr != nil {
		return nil, m.b.ContextErr
	}
	if p.ContextLength <= 0 {
		return nil, fmt.Errorf("invalid context length %d", p.ContextLength)
	}
	m.b.openContexts++
	return &scriptedContext{b: m.b, size: p.ContextLength, batch: p.BatchSize}, nil
}

func (m *scriptedModel) VocabSize() int {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	return len(m.b.vocab)
}

func (m *scriptedModel) IsEOS(tok Token) bool { return tok == ScriptedEOS }

// Tokenize yields BOS followed by one token per whitespace-separated word.
func (m *scriptedModel) Tokenize(text string) ([]Token, error) {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.b.TokenizeErr != nil {
		return nil, m.b.TokenizeErr
	}
	words := strings.Fields(text)
	out := make([]Token, 0, len(words)+1)
	out = append(out, ScriptedBOS)
	for _, w := range words {
		out = append(out, m.b.intern(w))
	}
	if m.b.Echo {
		m.b.script = m.b.script[:0]
		for i, w := range strings.Fields(lastUserTurn(text)) {
			if i > 0 {
				w = " " + w
			}
			m.b.script = append(m.b.script, m.b.intern(w))
		}
	}
	return out, nil
}

// lastUserTurn extracts the body of the final ChatML user turn, or the whole text.
func lastUserTurn(text string) string {
	const open = "<|im_start|>user\n"
	i := strings.LastIndex(text, open)
	if i < 0 {
		return text
	}
	body := text[i+len(open):]
	if j := strings.Index(body, "<|im_end|>"); j >= 0 {
		body = body[:j]
	}
	return body
}

func (m *scriptedModel) Detokenize(tok Token) string {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if int(tok) < 0 || int(tok) >= len(m.b.vocab) {
		return ""
	}
	return m.b.vocab[tok]
}

func (m *scriptedModel) Close() error {
	m.b.mu.Lock()
	defer m.b.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.b.openModels--
	return nil
}

type scriptedContext struct {
	b      *Scripted
	size   int
	batch  int
	pos    int
	step   int
	calls  int
	closed bool
}

func (c *scriptedContext) ResetCache() {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.pos = 0
	c.step = 0
	c.calls = 0
}

func (c *scriptedContext) Decode(tokens []Token, pos int) error {
	c.b.mu.Lock()
	c.calls++
	call := c.calls
	c.b.decodes++
	hook, delay := c.b.OnDecode, c.b.StepDelay
	var err error
	switch {
	case c.b.DecodeErr != nil && c.b.DecodeErrAt == call:
		err = c.b.DecodeErr
	case pos != c.pos:
		err = fmt.Errorf("decode at position %d, context is at %d", pos, c.pos)
	case pos+len(tokens) > c.size:
		err = fmt.Errorf("context overflow: %d > %d", pos+len(tokens), c.size)
	case c.batch > 0 && len(tokens) > c.batch:
		err = fmt.Errorf("batch of %d exceeds %d", len(tokens), c.batch)
	default:
		c.pos += len(tokens)
	}
	c.b.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (c *scriptedContext) Logits() ([]float32, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	logits := make([]float32, len(c.b.vocab))
	next := ScriptedEOS
	if n := len(c.b.script); n > 0 {
		switch {
		case c.step < n:
			next = c.b.script[c.step]
		case c.b.Loop:
			next = c.b.script[c.step%n]
		}
	}
	c.step++
	logits[next] = 100
	return logits, nil
}

func (c *scriptedContext) StateSize() uint64 { return uint64(c.size) * 1024 }

func (c *scriptedContext) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.b.openContexts--
	return nil
}
