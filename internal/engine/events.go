package engine

// Event names published by the engine.
const (
	EventModelLoaded        = "model_loaded"
	EventModelUnloaded      = "model_unloaded"
	EventModelLoadFailed    = "model_load_failed"
	EventGenerationStarted  = "generation_started"
	EventGenerationProgress = "generation_progress"
	EventGenerationFinished = "generation_finished"
	EventGenerationError    = "generation_error"
)

// Event is a lifecycle notification: a name, the model concerned and optional fields.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// EventPublisher receives engine notifications. Publish is called from the
// worker goroutine and must be quick and must not panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
