package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aditya/resq/internal/clock"
	"github.com/aditya/resq/internal/models"
)

const DefaultProgressionInterval = 10 * time.Second

// Progressor is a demo driver that walks each tracked request one lifecycle
// step per interval until it reaches a terminal status. All changes still go
// through the StatusSequencer.
type Progressor struct {
	sequencer StatusSequencer
	store     RequestStore
	clock     clock.Clock
	interval  time.Duration
	log       *slog.Logger

	mu     sync.Mutex
	timers map[string]clock.Timer
	closed bool
}

func NewProgressor(sequencer StatusSequencer, store RequestStore, clk clock.Clock, interval time.Duration, log *slog.Logger) *Progressor {
	if interval <= 0 {
		interval = DefaultProgressionInterval
	}
	return &Progressor{
		sequencer: sequencer,
		store:     store,
		clock:     clk,
		interval:  interval,
		log:       log.With("component", "progressor"),
		timers:    make(map[string]clock.Timer),
	}
}

// Track starts advancing requestID. Tracking an already tracked request is a no-op.
func (p *Progressor) Track(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.timers[requestID]; ok {
		return
	}
	p.scheduleLocked(requestID)
}

func (p *Progressor) Stop(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[requestID]; ok {
		t.Stop()
		delete(p.timers, requestID)
	}
}

// Close stops every pending step.
func (p *Progressor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}

// Tracking reports whether requestID still has a pending step.
func (p *Progressor) Tracking(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.timers[requestID]
	return ok
}

func (p *Progressor) scheduleLocked(requestID string) {
	p.timers[requestID] = p.clock.AfterFunc(p.interval, func() { p.step(requestID) })
}

func (p *Progressor) reschedule(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, ok := p.timers[requestID]; !ok {
		return
	}
	p.scheduleLocked(requestID)
}

func (p *Progressor) step(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	req, err := p.store.GetRequest(ctx, requestID)
	if err != nil {
		p.log.Warn("progression lookup failed", "request_id", requestID, "error", err)
		p.reschedule(requestID)
		return
	}

	next, ok := req.Status.Next()
	if req.Status.IsTerminal() || !ok {
		p.Stop(requestID)
		return
	}

	var extra *models.TransitionExtra
	if next == models.RequestStatusMatched && req.MechanicID == nil {
		mechanicID, found := p.firstAvailableMechanic(ctx)
		if !found {
			p.log.Info("no available mechanic, waiting", "request_id", requestID)
			p.reschedule(requestID)
			return
		}
		extra = &models.TransitionExtra{MechanicID: &mechanicID}
	}

	updated, err := p.sequencer.Transition(ctx, requestID, next, extra)
	if err != nil {
		p.log.Warn("progression step rejected", "request_id", requestID, "to", next, "error", err)
		p.reschedule(requestID)
		return
	}

	if updated.Status.IsTerminal() {
		p.Stop(requestID)
		return
	}
	p.reschedule(requestID)
}

func (p *Progressor) firstAvailableMechanic(ctx context.Context) (string, bool) {
	filter := DefaultMechanicFilter()
	filter.Status = StatusFilterAvailable
	mechanics, err := p.store.ListMechanics(ctx, filter)
	if err != nil || len(mechanics) == 0 {
		return "", false
	}
	return mechanics[0].ID, true
}
