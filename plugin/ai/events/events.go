// Package events is the in-process event bus between the experiment
// lifecycle and the suggestion generator. Neither package imports the other;
// they only share the event types defined here.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	// KindSpawnRequested asks the lifecycle to start an experiment for a suggestion.
	KindSpawnRequested Kind = "experiment.spawn_requested"
	// KindExperimentStarted is published after an experiment entered Running.
	KindExperimentStarted Kind = "experiment.started"
	// KindExperimentCompleted is published after an experiment entered Completed.
	KindExperimentCompleted Kind = "experiment.completed"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Kind() Kind
}

// SpawnRequested asks for a new experiment testing ProposedContent against
// the current content of the template.
type SpawnRequested struct {
	SuggestionID        int32
	TemplateID          int32
	TemplateKey         string
	ProposedContent     string
	Title               string
	ExpectedImprovement float64
	RequestedBy         string
}

// Kind implements Event.
func (SpawnRequested) Kind() Kind { return KindSpawnRequested }

// ExperimentStarted reports a running experiment.
type ExperimentStarted struct {
	ExperimentID int32
	SuggestionID *int32
	StartedAt    time.Time
}

// Kind implements Event.
func (ExperimentStarted) Kind() Kind { return KindExperimentStarted }

// ExperimentCompleted reports a completed experiment.
type ExperimentCompleted struct {
	ExperimentID     int32
	SuggestionID     *int32
	WinnerTemplateID int32
	// VariantImplemented is true when the variant replaced the control.
	VariantImplemented bool
	Reason             string
	CompletedAt        time.Time
}

// Kind implements Event.
func (ExperimentCompleted) Kind() Kind { return KindExperimentCompleted }

// Handler consumes one event.
type Handler func(ctx context.Context, event Event) error

// Bus delivers events synchronously to the handlers subscribed to their kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (b *Bus) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

// Subscribe registers handler for kind.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish runs every handler of the event kind in subscription order. All
// handlers run even if one fails; the failures are joined.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Kind()]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Warn("event handler failed", "kind", event.Kind(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
