package testutil

import (
	"encoding/json"
	"sync"
)

// PublishRecord is one captured publish.
type PublishRecord struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// RecordingPublisher implements entity.Publisher for tests. It captures every
// publish and lets tests inject inbound messages with Deliver.
type RecordingPublisher struct {
	mu       sync.Mutex
	records  []PublishRecord
	handlers map[string][]func(topic string, payload []byte)
}

// NewRecordingPublisher creates an empty recorder.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{
		handlers: make(map[string][]func(topic string, payload []byte)),
	}
}

// Publish records the publish.
func (r *RecordingPublisher) Publish(topic string, payload []byte, retain bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, PublishRecord{Topic: topic, Payload: payload, Retain: retain})
	return nil
}

// PublishJSON marshals val and records it as a retained publish.
func (r *RecordingPublisher) PublishJSON(topic string, val interface{}) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return r.Publish(topic, payload, true)
}

// Subscribe registers a handler for an exact topic.
func (r *RecordingPublisher) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], handler)
	return nil
}

// Deliver invokes the handlers subscribed to topic, simulating an inbound
// message from the broker.
func (r *RecordingPublisher) Deliver(topic string, payload []byte) {
	r.mu.Lock()
	handlers := append(([]func(string, []byte))(nil), r.handlers[topic]...)
	r.mu.Unlock()

	for _, handler := range handlers {
		handler(topic, payload)
	}
}

// Last returns the payload of the most recent publish on topic.
func (r *RecordingPublisher) Last(topic string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Topic == topic {
			return r.records[i].Payload, true
		}
	}
	return nil, false
}

// Records returns all captured publishes on topic, in order.
func (r *RecordingPublisher) Records(topic string) []PublishRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []PublishRecord
	for _, record := range r.records {
		if record.Topic == topic {
			matched = append(matched, record)
		}
	}
	return matched
}

// Subscribed reports whether any handler is registered for topic.
func (r *RecordingPublisher) Subscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[topic]) > 0
}

// Clear drops all captured publishes but keeps subscriptions.
func (r *RecordingPublisher) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}
