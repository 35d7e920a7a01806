// Package entity models the host's generic entity abstraction on the bridge
// side. An entity is composed from four narrow capability objects — an
// availability tracker, an attribute cache, a device-info block and a
// discovery announcer — instead of a tower of mixins; each platform holds a
// Base per entity it exposes and layers its own state mapping on top.
package entity

import (
	"fmt"

	"go.uber.org/zap"
)

// Base is the common core of every bridge-exposed entity.
type Base struct {
	Component string // host component: cover, sensor, switch, ...
	ObjectID  string
	Name      string

	Availability *Availability
	Attributes   *Attributes
	Device       DeviceInfo

	publisher Publisher
	discovery *Discovery
	root      string
	logger    *zap.Logger
}

// New creates an entity Base. prefix is the bridge's own topic prefix
// (state/command topics live under <prefix>/<component>/<object>), discovery
// is the host's discovery announcer.
func New(component, name, prefix string, publisher Publisher, discovery *Discovery, device DeviceInfo, logger *zap.Logger) *Base {
	objectID := Slug(name)
	root := fmt.Sprintf("%s/%s/%s", prefix, component, objectID)

	return &Base{
		Component:    component,
		ObjectID:     objectID,
		Name:         name,
		Availability: NewAvailability(publisher, root+"/available"),
		Attributes:   NewAttributes(publisher, root+"/attributes"),
		Device:       device,
		publisher:    publisher,
		discovery:    discovery,
		root:         root,
		logger:       logger,
	}
}

// Topic returns an absolute topic under the entity's root.
func (b *Base) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", b.root, suffix)
}

// PublishState publishes a retained state payload under the entity's root.
func (b *Base) PublishState(suffix, payload string) error {
	return b.publisher.Publish(b.Topic(suffix), []byte(payload), true)
}

// SubscribeCommand registers a handler for one of the entity's command topics.
func (b *Base) SubscribeCommand(suffix string, handler func(payload []byte)) error {
	return b.publisher.Subscribe(b.Topic(suffix), func(_ string, payload []byte) {
		handler(payload)
	})
}

// BaseConfig returns a discovery Config pre-filled with the fields every
// entity shares; the platform fills in its component-specific topics.
func (b *Base) BaseConfig() Config {
	device := b.Device
	return Config{
		Name:                b.Name,
		UniqueID:            fmt.Sprintf("%s_%s_%s", b.discovery.NodeID, b.Component, b.ObjectID),
		AvailabilityTopic:   b.Availability.Topic,
		JSONAttributesTopic: b.Attributes.Topic,
		Device:              &device,
	}
}

// Announce publishes the entity's discovery config.
func (b *Base) Announce(cfg Config) error {
	if err := b.discovery.Announce(b.publisher, b.Component, b.ObjectID, cfg); err != nil {
		return fmt.Errorf("failed to announce %s.%s: %w", b.Component, b.ObjectID, err)
	}
	b.logger.Debug("Announced entity",
		zap.String("component", b.Component),
		zap.String("object_id", b.ObjectID))
	return nil
}

// Unannounce removes the entity's retained discovery config.
func (b *Base) Unannounce() error {
	return b.discovery.Remove(b.publisher, b.Component, b.ObjectID)
}
