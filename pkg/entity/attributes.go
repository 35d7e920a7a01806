package entity

import "sync"

// Attributes is a cache of extra state attributes published as a single
// retained JSON document on the entity's attributes topic.
type Attributes struct {
	Topic string

	publisher Publisher
	mu        sync.Mutex
	values    map[string]interface{}
}

// NewAttributes creates an attribute cache for an entity.
func NewAttributes(publisher Publisher, topic string) *Attributes {
	return &Attributes{
		Topic:     topic,
		publisher: publisher,
		values:    make(map[string]interface{}),
	}
}

// Set stores an attribute value. Publish must be called to push the cache.
func (a *Attributes) Set(key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
}

// Get returns a stored attribute value.
func (a *Attributes) Get(key string) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[key]
	return v, ok
}

// Publish pushes the current attribute cache as one JSON document.
func (a *Attributes) Publish() error {
	a.mu.Lock()
	snapshot := make(map[string]interface{}, len(a.values))
	for k, v := range a.values {
		snapshot[k] = v
	}
	a.mu.Unlock()

	return a.publisher.PublishJSON(a.Topic, snapshot)
}
