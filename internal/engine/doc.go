// Package engine runs one local language model and streams its generations.
// It is structured into small files by concern:
//
//   - engine.go: Engine type, New, lifecycle (LoadModel/UnloadModel/Close) and queries.
//   - generate.go: Generate/StopGeneration and the worker goroutine.
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: State, StreamEvent, Params, Status.
//   - errors.go: error types and predicates (IsNotLoaded, IsModelLoadFailure, ...).
//   - events.go, eventpub_memory.go: lifecycle notifications for collaborators.
//   - modelctx.go: the loaded model handle paired with its computation context.
//   - session.go: the per-request state machine.
//   - stop.go: incremental stop-sequence matching with hold-back.
//   - stream.go: the bounded event channel handed to callers.
//   - metrics.go: Prometheus collectors.
//
// Concurrency: at most one session runs at a time, on its own goroutine, and it
// is the only code touching the backend while it runs. Starting a new session,
// unloading or closing first cancels the active one and waits for its worker to
// exit, so the terminal event of one session always precedes any event of the
// next. StopGeneration only flips an atomic flag and never blocks.
package engine
