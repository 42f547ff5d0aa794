package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"wishmaster/internal/engine"
)

// streamTo copies token text to w until the stream ends and returns the full
// text with the terminal event. Cancelling ctx stops the session.
func streamTo(ctx context.Context, st *engine.Stream, w io.Writer) (string, engine.StreamEvent) {
	stop := context.AfterFunc(ctx, st.Stop)
	defer stop()
	var sb strings.Builder
	for ev := range st.Events() {
		if ev.Kind == engine.EventToken {
			sb.WriteString(ev.Text)
			fmt.Fprint(w, ev.Text)
			continue
		}
		return sb.String(), ev
	}
	return sb.String(), engine.StreamEvent{Kind: engine.EventFinished, Reason: engine.ReasonCancelled}
}
