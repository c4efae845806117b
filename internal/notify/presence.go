package notify

import "sync"

// Presence is what the client last told us about its page.
type Presence struct {
	Focused              bool   `json:"focused"`
	NotificationsGranted bool   `json:"notifications_granted"`
	DeviceToken          string `json:"device_token,omitempty"`
}

// PresenceRegistry tracks presence per request. Unknown requests count as focused.
type PresenceRegistry struct {
	mu       sync.RWMutex
	presence map[string]Presence
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{presence: make(map[string]Presence)}
}

func (r *PresenceRegistry) Set(requestID string, p Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence[requestID] = p
}

func (r *PresenceRegistry) Get(requestID string) Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[requestID]
	if !ok {
		return Presence{Focused: true}
	}
	return p
}

func (r *PresenceRegistry) Forget(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, requestID)
}
