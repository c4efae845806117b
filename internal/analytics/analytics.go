package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Event categories and actions
const (
	CategoryRequest  = "emergency_request"
	CategoryMechanic = "mechanic"
	CategoryMap      = "map"

	ActionSubmitted        = "submitted"
	ActionValidationError  = "validation_error"
	ActionSubmitError      = "submit_error"
	ActionStatusTransition = "status_transition"
	ActionMechanicSelected = "selected"
	ActionFiltersApplied   = "filters_applied"
	ActionReviewSubmitted  = "review_submitted"
	ActionCancelled        = "cancelled"
	ActionProviderError    = "provider_error"
)

type Event struct {
	Category string   `json:"category"`
	Action   string   `json:"action"`
	Label    string   `json:"label,omitempty"`
	Value    *float64 `json:"value,omitempty"`
}

// Emitter receives fire-and-forget analytics events. Implementations must not block.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

type noopEmitter struct{}

func NewNoopEmitter() Emitter { return noopEmitter{} }

func (noopEmitter) Emit(context.Context, Event) {}

type logEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) Emitter {
	return &logEmitter{log: log.With("component", "analytics")}
}

func (e *logEmitter) Emit(ctx context.Context, ev Event) {
	attrs := []any{"category", ev.Category, "action", ev.Action}
	if ev.Label != "" {
		attrs = append(attrs, "label", ev.Label)
	}
	if ev.Value != nil {
		attrs = append(attrs, "value", *ev.Value)
	}
	e.log.InfoContext(ctx, "analytics event", attrs...)
}

type newRelicEmitter struct {
	app *newrelic.Application
}

// NewNewRelicEmitter records each event as a New Relic custom event of type "ResQEvent".
func NewNewRelicEmitter(app *newrelic.Application) Emitter {
	return &newRelicEmitter{app: app}
}

func (e *newRelicEmitter) Emit(_ context.Context, ev Event) {
	params := map[string]interface{}{
		"category": ev.Category,
		"action":   ev.Action,
		"label":    ev.Label,
	}
	if ev.Value != nil {
		params["value"] = *ev.Value
	}
	e.app.RecordCustomEvent("ResQEvent", params)
}

type multiEmitter struct {
	log      *slog.Logger
	emitters []Emitter
}

// NewMulti fans each event out to every emitter. A panicking emitter is logged and skipped.
func NewMulti(log *slog.Logger, emitters ...Emitter) Emitter {
	return &multiEmitter{log: log, emitters: emitters}
}

func (m *multiEmitter) Emit(ctx context.Context, ev Event) {
	for _, e := range m.emitters {
		m.safeEmit(ctx, e, ev)
	}
}

func (m *multiEmitter) safeEmit(ctx context.Context, e Emitter, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("analytics emitter panicked", "panic", r, "action", ev.Action)
		}
	}()
	e.Emit(ctx, ev)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Actions lists the recorded actions in order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func Float(v float64) *float64 { return &v }
