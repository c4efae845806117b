package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/service"
)

// statusMessages are the user-facing texts announced for each transition.
var statusMessages = map[models.RequestStatus]string{
	models.RequestStatusMatched:   "A mechanic has been assigned to your request",
	models.RequestStatusEnRoute:   "Your mechanic is on the way",
	models.RequestStatusArrived:   "Your mechanic has arrived at your location",
	models.RequestStatusCompleted: "Your service has been completed",
	models.RequestStatusCancelled: "Your request has been cancelled",
}

const notificationTitle = "Request Status Update"

// MessageFor returns the announcement for status, if it has one.
func MessageFor(status models.RequestStatus) (string, bool) {
	msg, ok := statusMessages[status]
	return msg, ok
}

type Notification struct {
	RequestID string               `json:"request_id"`
	Status    models.RequestStatus `json:"status"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Time      time.Time            `json:"timestamp"`
}

// InAppSink shows a notification inside the page (toast).
type InAppSink interface {
	Send(requestID string, n Notification)
}

// SystemNotifier delivers an OS-level notification to a device.
type SystemNotifier interface {
	Push(ctx context.Context, deviceToken string, n Notification) error
}

// Bridge turns the status stream of a request into notifications.
type Bridge struct {
	sequencer service.StatusSequencer
	inApp     InAppSink
	system    SystemNotifier
	presence  *PresenceRegistry
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	watchers map[string]service.Subscription
}

func NewBridge(sequencer service.StatusSequencer, inApp InAppSink, system SystemNotifier, presence *PresenceRegistry, log *slog.Logger) *Bridge {
	return &Bridge{
		sequencer: sequencer,
		inApp:     inApp,
		system:    system,
		presence:  presence,
		log:       log.With("component", "notification_bridge"),
		now:       time.Now,
		watchers:  make(map[string]service.Subscription),
	}
}

// Watch starts announcing transitions of requestID. The first snapshot only
// sets the baseline. Watching stops by itself once the request is terminal.
func (b *Bridge) Watch(ctx context.Context, requestID string) error {
	b.mu.Lock()
	if _, ok := b.watchers[requestID]; ok {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	w := &watcher{bridge: b, requestID: requestID}
	sub, err := b.sequencer.Subscribe(ctx, requestID, w.onUpdate)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, ok := b.watchers[requestID]; ok {
		b.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	b.watchers[requestID] = sub
	b.mu.Unlock()

	w.setSub(sub)
	return nil
}

func (b *Bridge) Watching(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.watchers[requestID]
	return ok
}

func (b *Bridge) Stop(requestID string) {
	b.mu.Lock()
	sub, ok := b.watchers[requestID]
	delete(b.watchers, requestID)
	b.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.watchers
	b.watchers = make(map[string]service.Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (b *Bridge) announce(req *models.EmergencyRequest) {
	msg, ok := MessageFor(req.Status)
	if !ok {
		return
	}

	n := Notification{
		RequestID: req.ID,
		Status:    req.Status,
		Title:     notificationTitle,
		Message:   msg,
		Time:      b.now().UTC(),
	}
	b.inApp.Send(req.ID, n)

	if b.system == nil || b.presence == nil {
		return
	}
	p := b.presence.Get(req.ID)
	if p.Focused || !p.NotificationsGranted || p.DeviceToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.system.Push(ctx, p.DeviceToken, n); err != nil {
		b.log.Warn("system notification failed", "request_id", req.ID, "error", err)
	}
}

type watcher struct {
	bridge    *Bridge
	requestID string

	mu       sync.Mutex
	lastSeen models.RequestStatus
	seen     bool
	sub      service.Subscription
	done     bool
}

func (w *watcher) setSub(sub service.Subscription) {
	w.mu.Lock()
	w.sub = sub
	done := w.done
	w.mu.Unlock()

	if done {
		w.bridge.detach(w.requestID, sub)
	}
}

func (w *watcher) onUpdate(req *models.EmergencyRequest) {
	w.mu.Lock()
	if w.seen && req.Status == w.lastSeen {
		w.mu.Unlock()
		return
	}
	first := !w.seen
	w.seen = true
	w.lastSeen = req.Status
	w.mu.Unlock()

	if !first {
		w.bridge.announce(req)
	}

	if req.Status.IsTerminal() {
		w.mu.Lock()
		w.done = true
		sub := w.sub
		w.mu.Unlock()
		if sub != nil {
			w.bridge.detach(w.requestID, sub)
		}
	}
}

// detach removes sub if it is still the registered watcher for requestID.
func (b *Bridge) detach(requestID string, sub service.Subscription) {
	b.mu.Lock()
	if cur, ok := b.watchers[requestID]; ok && cur == sub {
		delete(b.watchers, requestID)
	}
	b.mu.Unlock()
	sub.Unsubscribe()
}
