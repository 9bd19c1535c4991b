package task

import "time"

type EventKind string

const (
	EventStatus   EventKind = "status"
	EventAttempt  EventKind = "attempt"
	EventProgress EventKind = "progress"
)

// Event is a notification about one task, published to a Sink.
type Event struct {
	Kind       EventKind `json:"kind"`
	TaskID     string    `json:"taskId"`
	Status     Status    `json:"status"`
	Attempt    int       `json:"attempt"`
	Strategy   string    `json:"strategy,omitempty"`
	Encoder    string    `json:"encoder,omitempty"`
	Percentage float64   `json:"percentage"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Terminal reports whether the event announces a final status.
func (e Event) Terminal() bool {
	return e.Kind == EventStatus && e.Status.Terminal()
}

// Sink receives task events. Publish is called from supervisor goroutines
// and must return promptly.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
