package analytics

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type panicEmitter struct{}

func (panicEmitter) Emit(context.Context, Event) { panic("boom") }

func TestMulti_SurvivesPanickingEmitter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	rec := &Recorder{}

	m := NewMulti(log, panicEmitter{}, rec)
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), Event{Category: CategoryRequest, Action: ActionSubmitted})
	})

	assert.Equal(t, []string{ActionSubmitted}, rec.Actions())
	assert.Contains(t, buf.String(), "analytics emitter panicked")
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))

	e.Emit(context.Background(), Event{Category: CategoryMechanic, Action: ActionFiltersApplied, Label: "available", Value: Float(3)})

	out := buf.String()
	assert.Contains(t, out, `"action":"filters_applied"`)
	assert.Contains(t, out, `"label":"available"`)
	assert.Contains(t, out, `"value":3`)
}
