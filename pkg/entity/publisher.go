package entity

// Publisher is the transport an entity publishes its state through and
// receives its commands from. The MQTT client implements it in production;
// tests use a recording fake. Entities never touch the MQTT library directly,
// so the rest of the entity code depends on this contract rather than on an
// external client's shape.
type Publisher interface {
	// Publish sends a payload on an absolute topic, optionally retained.
	Publish(topic string, payload []byte, retain bool) error

	// PublishJSON marshals val and publishes it retained on an absolute topic.
	PublishJSON(topic string, val interface{}) error

	// Subscribe registers a handler for an absolute topic filter.
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}
