package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Broadcaster delivers in-app notifications to every stream open for a request.
type Broadcaster struct {
	log     *slog.Logger
	mu      sync.RWMutex
	clients map[string]map[chan []byte]bool // requestID -> clients
}

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log.With("component", "broadcaster"),
		clients: make(map[string]map[chan []byte]bool),
	}
}

// Register returns a channel receiving encoded notifications for requestID.
// Release it with Unregister.
func (b *Broadcaster) Register(requestID string) chan []byte {
	ch := make(chan []byte, 10)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[requestID] == nil {
		b.clients[requestID] = make(map[chan []byte]bool)
	}
	b.clients[requestID][ch] = true
	return ch
}

func (b *Broadcaster) Unregister(requestID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[requestID]; ok {
		if _, ok := clients[ch]; !ok {
			return
		}
		delete(clients, ch)
		if len(clients) == 0 {
			delete(b.clients, requestID)
		}
		close(ch)
	}
}

func (b *Broadcaster) Send(requestID string, n Notification) {
	msg, err := json.Marshal(n)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients[requestID] {
		select {
		case ch <- msg:
		default:
			b.log.Warn("notification dropped for slow client", "request_id", requestID)
		}
	}
}
