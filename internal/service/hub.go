package service

import (
	"log/slog"
	"sync"

	"github.com/aditya/resq/internal/models"
	"go.uber.org/atomic"
)

// SnapshotPublisher receives every stored version of a request.
type SnapshotPublisher interface {
	Publish(req *models.EmergencyRequest)
}

// Subscription is a live feed of request snapshots.
type Subscription interface {
	// Unsubscribe stops future callbacks. Calling it more than once is a no-op.
	Unsubscribe()
}

// Hub fans request snapshots out to per-request subscribers. Each subscriber
// owns a queue drained by its own goroutine so callbacks never run under locks
// and a slow subscriber cannot stall the writer.
type Hub struct {
	log  *slog.Logger
	mu   sync.Mutex
	next uint64
	subs map[string]map[uint64]*subscription
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:  log.With("component", "hub"),
		subs: make(map[string]map[uint64]*subscription),
	}
}

// Publish enqueues a copy of req for every subscriber of req.ID.
func (h *Hub) Publish(req *models.EmergencyRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs[req.ID] {
		s.enqueue(req.Clone())
	}
}

// add registers a subscriber whose first delivery is initial.
func (h *Hub) add(initial *models.EmergencyRequest, onUpdate func(*models.EmergencyRequest)) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	s := &subscription{
		hub:      h,
		id:       h.next,
		reqID:    initial.ID,
		onUpdate: onUpdate,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.active.Store(true)
	s.enqueue(initial.Clone())

	if h.subs[initial.ID] == nil {
		h.subs[initial.ID] = make(map[uint64]*subscription)
	}
	h.subs[initial.ID][s.id] = s

	go s.run(h.log)
	return s
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[s.reqID]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(h.subs, s.reqID)
		}
	}
}

// SubscriberCount reports active subscribers for a request.
func (h *Hub) SubscriberCount(reqID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[reqID])
}

type subscription struct {
	hub      *Hub
	id       uint64
	reqID    string
	onUpdate func(*models.EmergencyRequest)
	active   atomic.Bool

	mu    sync.Mutex
	queue []*models.EmergencyRequest
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) enqueue(req *models.EmergencyRequest) {
	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run(log *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if !s.active.Load() {
				return
			}
			s.deliver(log, next)
		}
	}
}

func (s *subscription) deliver(log *slog.Logger, req *models.EmergencyRequest) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("subscriber callback panicked", "request_id", s.reqID, "panic", r)
		}
	}()
	s.onUpdate(req)
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.hub.remove(s)
		close(s.done)

		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
	})
}
