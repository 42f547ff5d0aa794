package engine

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Stream is the caller's handle on one generation. Events arrive in order on
// Events, end with exactly one terminal event, and the channel is then closed.
// The channel is sized for the whole session, so the worker never waits for a
// slow or absent reader.
type Stream struct {
	id     string
	events chan StreamEvent
	done   chan struct{}

	cancelled atomic.Bool
	tokens    atomic.Int64
	state     atomic.Value // State
}

// eventCapacity bounds the events a session can send: one per token, one
// flush of held-back text and the terminal event.
func eventCapacity(maxTokens, ctxLen int) int {
	return min(maxTokens, ctxLen) + 2
}

func newStream(capacity int) *Stream {
	s := &Stream{
		id:     uuid.NewString(),
		events: make(chan StreamEvent, capacity),
		done:   make(chan struct{}),
	}
	s.state.Store(StateIdle)
	return s
}

// ID is the request id of the session.
func (s *Stream) ID() string { return s.id }

func (s *Stream) Events() <-chan StreamEvent { return s.events }

// Done is closed once the worker has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Wait blocks until the worker has exited.
func (s *Stream) Wait() { <-s.done }

// Stop requests cancellation; it never blocks.
func (s *Stream) Stop() { s.cancelled.Store(true) }

// Tokens is the number of tokens sampled so far.
func (s *Stream) Tokens() int { return int(s.tokens.Load()) }

// State is the session's current state.
func (s *Stream) State() State { return s.state.Load().(State) }

// Collect drains the stream and returns the concatenated text and the terminal event.
func (s *Stream) Collect() (string, StreamEvent) {
	var sb strings.Builder
	var last StreamEvent
	for ev := range s.events {
		if ev.Kind == EventToken {
			sb.WriteString(ev.Text)
			continue
		}
		last = ev
	}
	return sb.String(), last
}

func (s *Stream) setState(st State) { s.state.Store(st) }

func (s *Stream) isCancelled() bool { return s.cancelled.Load() }
