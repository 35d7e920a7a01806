package entity

import "sync"

// Availability payloads on the entity availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Availability tracks an entity's online/offline state and publishes it
// retained. Repeated transitions to the same state are suppressed.
type Availability struct {
	Topic string

	publisher Publisher
	mu        sync.Mutex
	online    bool
	published bool
}

// NewAvailability creates an availability tracker for an entity.
func NewAvailability(publisher Publisher, topic string) *Availability {
	return &Availability{
		Topic:     topic,
		publisher: publisher,
	}
}

// SetOnline publishes the entity as available.
func (a *Availability) SetOnline() error {
	return a.set(true)
}

// SetOffline publishes the entity as unavailable.
func (a *Availability) SetOffline() error {
	return a.set(false)
}

// Online reports the last published availability.
func (a *Availability) Online() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.published && a.online
}

func (a *Availability) set(online bool) error {
	a.mu.Lock()
	if a.published && a.online == online {
		a.mu.Unlock()
		return nil
	}
	a.online = online
	a.published = true
	a.mu.Unlock()

	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	return a.publisher.Publish(a.Topic, []byte(payload), true)
}
