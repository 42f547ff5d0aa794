package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"wishmaster/internal/backend"
	"wishmaster/internal/sampling"
)

// session is the state machine of one Generate call. It runs on the worker
// goroutine and owns the model context for its whole lifetime.
type session struct {
	mc     *modelContext
	st     *Stream
	params Params
	policy *sampling.Policy
	log    zerolog.Logger

	// onToken observes every sampled token; used for metrics and progress.
	onToken func(produced int)
}

// run drives the session to a terminal state. It returns the finish reason on
// success and a *GenerationError otherwise.
func (s *session) run(prompt string) (Reason, error) {
	st := s.st
	st.setState(StatePrompting)
	if s.params.MaxTokens <= 0 {
		return ReasonMaxTokens, nil
	}
	if st.isCancelled() {
		st.setState(StateStopping)
		return ReasonCancelled, nil
	}

	s.mc.ctx.ResetCache()
	toks, err := s.mc.model.Tokenize(prompt)
	if err != nil {
		return "", &GenerationError{Stage: StageTokenize, Err: err}
	}
	if len(toks) == 0 {
		return "", &GenerationError{Stage: StageTokenize, Err: errors.New("prompt produced no tokens")}
	}
	if len(toks) >= s.mc.ctxLen {
		return "", &GenerationError{Stage: StageTokenize,
			Err: fmt.Errorf("%w: %d tokens, context %d", ErrPromptTooLong, len(toks), s.mc.ctxLen)}
	}
	s.log.Debug().Int("prompt_tokens", len(toks)).Msg("prompt tokenized")

	st.setState(StateDecoding)
	for i := 0; i < len(toks); i += s.mc.batch {
		if st.isCancelled() {
			st.setState(StateStopping)
			return ReasonCancelled, nil
		}
		end := min(i+s.mc.batch, len(toks))
		if err := s.mc.ctx.Decode(toks[i:end], i); err != nil {
			return "", &GenerationError{Stage: StageDecode, Err: err}
		}
	}

	pos := len(toks)
	stops := newStopMatcher(s.params.StopSequences)
	produced := 0
	for {
		if st.isCancelled() {
			// whatever the matcher still holds is dropped
			st.setState(StateStopping)
			return ReasonCancelled, nil
		}

		st.setState(StateSampling)
		logits, err := s.mc.ctx.Logits()
		if err != nil {
			return "", &GenerationError{Stage: StageLogits, Err: err}
		}
		if len(logits) == 0 {
			return "", &GenerationError{Stage: StageLogits, Err: errors.New("empty logits")}
		}
		tok := backend.Token(s.policy.Sample(logits, s.params.Temperature))
		if s.mc.model.IsEOS(tok) {
			s.emit(stops.flush())
			return ReasonEOS, nil
		}

		produced++
		st.tokens.Store(int64(produced))
		if s.onToken != nil {
			s.onToken(produced)
		}

		text, matched := stops.push(s.mc.model.Detokenize(tok))
		s.emit(text)
		if matched {
			st.setState(StateStopping)
			return ReasonStopSequence, nil
		}
		if produced >= s.params.MaxTokens {
			s.emit(stops.flush())
			return ReasonMaxTokens, nil
		}
		if pos >= s.mc.ctxLen {
			s.emit(stops.flush())
			return ReasonContextFull, nil
		}

		st.setState(StateDecoding)
		if err := s.mc.ctx.Decode([]backend.Token{tok}, pos); err != nil {
			return "", &GenerationError{Stage: StageDecode, Err: err}
		}
		pos++
	}
}

// emit sends a token event; the channel always has room for it.
func (s *session) emit(text string) {
	if text == "" {
		return
	}
	s.st.events <- StreamEvent{Kind: EventToken, Text: text}
}
