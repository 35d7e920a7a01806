package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// DeviceInfo is the device block included in discovery payloads so the host
// groups all entities from one integration under a single device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers,omitempty"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	SuggestedArea string  `json:"suggested_area,omitempty"`
}

// Config is the discovery payload announcing an entity to the host. Only the
// fields relevant to the entity's component are set; everything else is
// omitted from the JSON.
type Config struct {
	Name                string      `json:"name"`
	UniqueID            string      `json:"unique_id"`
	StateTopic          string      `json:"state_topic,omitempty"`
	CommandTopic        string      `json:"command_topic,omitempty"`
	AvailabilityTopic   string      `json:"availability_topic,omitempty"`
	JSONAttributesTopic string      `json:"json_attributes_topic,omitempty"`
	Device              *DeviceInfo `json:"device,omitempty"`
	DeviceClass         string      `json:"device_class,omitempty"`
	StateClass          string      `json:"state_class,omitempty"`
	UnitOfMeasurement   string      `json:"unit_of_measurement,omitempty"`
	Icon                string      `json:"icon,omitempty"`

	// cover
	PositionTopic    string `json:"position_topic,omitempty"`
	TiltStatusTopic  string `json:"tilt_status_topic,omitempty"`
	TiltCommandTopic string `json:"tilt_command_topic,omitempty"`

	// switch
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`

	// number
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Step float64 `json:"step,omitempty"`

	// select
	Options []string `json:"options,omitempty"`
}

// Discovery publishes entity configs on the host's discovery prefix
// (<prefix>/<component>/<node>/<object>/config, retained).
type Discovery struct {
	Prefix string
	NodeID string
}

// ConfigTopic returns the discovery config topic for an entity.
func (d *Discovery) ConfigTopic(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.Prefix, component, d.NodeID, objectID)
}

// Announce publishes the retained discovery config for an entity.
func (d *Discovery) Announce(p Publisher, component, objectID string, cfg Config) error {
	return p.PublishJSON(d.ConfigTopic(component, objectID), cfg)
}

// Remove clears the retained discovery config so the host forgets the entity.
func (d *Discovery) Remove(p Publisher, component, objectID string) error {
	return p.Publish(d.ConfigTopic(component, objectID), nil, true)
}

var slugUnderscores = regexp.MustCompile(`_+`)

// Slug converts a friendly name to an object id ("Garage Door" -> "garage_door").
func Slug(name string) string {
	result := strings.ToLower(name)
	result = strings.ReplaceAll(result, " ", "_")
	result = strings.ReplaceAll(result, "-", "_")
	result = slugUnderscores.ReplaceAllString(result, "_")
	return strings.Trim(result, "_")
}
