// Package config loads the bridge configuration from a single YAML file,
// with secrets overridable from the environment (optionally via a .env file).
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration.
type Config struct {
	Host    HostConfig    `yaml:"host"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`

	ReadOnly bool `yaml:"read_only"`

	Covers  []CoverConfig  `yaml:"covers"`
	Sun     *SunConfig     `yaml:"sun"`
	Weather *WeatherConfig `yaml:"weather"`
	AVRs    []AVRConfig    `yaml:"avrs"`
}

// HostConfig points at the Home Assistant instance the bridge observes.
type HostConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// MQTTConfig configures the broker connection and topic layout.
type MQTTConfig struct {
	URL             string `yaml:"url"`
	ClientID        string `yaml:"client_id"`
	Prefix          string `yaml:"prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	NodeID          string `yaml:"node_id"`
}

// MetricsConfig configures the internal metrics/health listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// StoreConfig configures the persisted-state database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CoverConfig describes one simulated cover driven by two observed switches.
type CoverConfig struct {
	Name        string `yaml:"name"`
	OpenSwitch  string `yaml:"open_switch"`
	CloseSwitch string `yaml:"close_switch"`

	// Full travel time in seconds. Tilt time of 0 disables tilt.
	TravelTime float64 `yaml:"travel_time"`
	TiltTime   float64 `yaml:"tilt_time"`

	DeviceClass string `yaml:"device_class"`
}

// TravelDuration returns the configured travel time as a duration.
func (c CoverConfig) TravelDuration() time.Duration {
	return time.Duration(c.TravelTime * float64(time.Second))
}

// TiltDuration returns the configured tilt time as a duration.
func (c CoverConfig) TiltDuration() time.Duration {
	return time.Duration(c.TiltTime * float64(time.Second))
}

// SunConfig enables the sun platform at a fixed location.
type SunConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// WeatherConfig enables the weather polling platform.
type WeatherConfig struct {
	Endpoint string `yaml:"endpoint"`

	// Poll interval in seconds; defaults to 300.
	Interval float64 `yaml:"interval"`
}

// PollInterval returns the poll interval, defaulting to five minutes.
func (c WeatherConfig) PollInterval() time.Duration {
	if c.Interval <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Interval * float64(time.Second))
}

// AVRConfig describes one network AV receiver.
type AVRConfig struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	Sources []string `yaml:"sources"`
}

// Load reads and validates the configuration at path. Environment variables
// HOST_URL, HOST_TOKEN and MQTT_URL override the corresponding YAML fields;
// a .env file next to the working directory is honored when present.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if v := os.Getenv("HOST_URL"); v != "" {
		cfg.Host.URL = v
	}
	if v := os.Getenv("HOST_TOKEN"); v != "" {
		cfg.Host.Token = v
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		cfg.MQTT.URL = v
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.Int("covers", len(cfg.Covers)),
		zap.Bool("sun", cfg.Sun != nil),
		zap.Bool("weather", cfg.Weather != nil),
		zap.Int("avrs", len(cfg.AVRs)))

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "habridge"
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "habridge"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.NodeID == "" {
		c.MQTT.NodeID = "habridge"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9137"
	}
	if c.Store.Path == "" {
		c.Store.Path = "habridge.db"
	}
}

// Validate checks the configuration for errors that would only surface later.
func (c *Config) Validate() error {
	if c.Host.URL == "" {
		return fmt.Errorf("host.url is required")
	}
	if c.Host.Token == "" {
		return fmt.Errorf("host.token is required (set HOST_TOKEN)")
	}
	if c.MQTT.URL == "" {
		return fmt.Errorf("mqtt.url is required")
	}
	if _, err := url.Parse(c.MQTT.URL); err != nil {
		return fmt.Errorf("mqtt.url is not a valid URL: %w", err)
	}

	seen := make(map[string]bool)
	for i, cover := range c.Covers {
		if cover.Name == "" {
			return fmt.Errorf("covers[%d]: name is required", i)
		}
		if seen[cover.Name] {
			return fmt.Errorf("covers[%d]: duplicate name %q", i, cover.Name)
		}
		seen[cover.Name] = true

		if cover.OpenSwitch == "" || cover.CloseSwitch == "" {
			return fmt.Errorf("cover %q: open_switch and close_switch are required", cover.Name)
		}
		if cover.OpenSwitch == cover.CloseSwitch {
			return fmt.Errorf("cover %q: open_switch and close_switch must differ", cover.Name)
		}
		if cover.TravelTime <= 0 {
			return fmt.Errorf("cover %q: travel_time must be positive", cover.Name)
		}
		if cover.TiltTime < 0 {
			return fmt.Errorf("cover %q: tilt_time must not be negative", cover.Name)
		}
		if cover.TiltTime > cover.TravelTime {
			return fmt.Errorf("cover %q: tilt_time must not exceed travel_time", cover.Name)
		}
	}

	if c.Sun != nil {
		if c.Sun.Latitude < -90 || c.Sun.Latitude > 90 {
			return fmt.Errorf("sun.latitude out of range")
		}
		if c.Sun.Longitude < -180 || c.Sun.Longitude > 180 {
			return fmt.Errorf("sun.longitude out of range")
		}
	}

	if c.Weather != nil && c.Weather.Endpoint == "" {
		return fmt.Errorf("weather.endpoint is required when weather is configured")
	}

	for i, avr := range c.AVRs {
		if avr.Name == "" {
			return fmt.Errorf("avrs[%d]: name is required", i)
		}
		if avr.Address == "" {
			return fmt.Errorf("avr %q: address is required", avr.Name)
		}
	}

	return nil
}
