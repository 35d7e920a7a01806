// Package weather polls an HTTP endpoint returning current conditions as
// JSON and exposes them as sensors. A failed poll marks the sensors
// unavailable for that cycle; malformed values are logged and the previous
// reading is kept.
package weather

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"habridge/internal/clock"
	"habridge/internal/metrics"
	"habridge/pkg/entity"
	"habridge/pkg/platform"
)

const platformName = "weather"

const requestTimeout = 10 * time.Second

func init() {
	platform.Register(platform.Info{
		Name:        platformName,
		Description: "Polls an HTTP endpoint for current weather conditions",
		Priority:    platform.PriorityDefault,
		Factory:     New,
	})
}

// observation is the payload shape the endpoint returns. Pointer fields
// distinguish "absent" from zero readings.
type observation struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Condition   string   `json:"condition"`
}

type sensor struct {
	base        *entity.Base
	format      func(obs *observation) (string, bool)
	announceCfg entity.Config
	lastValue   string
}

// Platform polls the endpoint and publishes the sensor readings.
type Platform struct {
	endpoint string
	interval time.Duration
	client   *http.Client
	clk      clock.Clock
	logger   *zap.Logger

	sensors []*sensor

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// New creates the weather platform. It is inert when no endpoint is
// configured.
func New(ctx *platform.Context) (platform.Platform, error) {
	logger := ctx.Logger.Named(platformName)
	if ctx.Config.Weather == nil {
		return &Platform{logger: logger}, nil
	}

	p := &Platform{
		endpoint: ctx.Config.Weather.Endpoint,
		interval: ctx.Config.Weather.PollInterval(),
		client:   &http.Client{Timeout: requestTimeout},
		clk:      ctx.Clock,
		logger:   logger,
	}

	newSensor := func(name, deviceClass, unit string, format func(*observation) (string, bool)) *sensor {
		base := entity.New("sensor", name, ctx.Config.MQTT.Prefix,
			ctx.Publisher, ctx.Discovery, *ctx.Device, logger)
		s := &sensor{base: base, format: format}
		s.base.Attributes.Set("source", p.endpoint)

		cfg := base.BaseConfig()
		cfg.StateTopic = base.Topic("state")
		cfg.DeviceClass = deviceClass
		cfg.StateClass = "measurement"
		cfg.UnitOfMeasurement = unit
		s.announceCfg = cfg
		return s
	}

	formatFloat := func(value *float64) (string, bool) {
		if value == nil {
			return "", false
		}
		return strconv.FormatFloat(*value, 'f', 1, 64), true
	}

	p.sensors = []*sensor{
		newSensor("Weather Temperature", "temperature", "°C", func(obs *observation) (string, bool) {
			return formatFloat(obs.Temperature)
		}),
		newSensor("Weather Humidity", "humidity", "%", func(obs *observation) (string, bool) {
			return formatFloat(obs.Humidity)
		}),
		newSensor("Weather Pressure", "pressure", "hPa", func(obs *observation) (string, bool) {
			return formatFloat(obs.Pressure)
		}),
		newSensor("Weather Condition", "", "", func(obs *observation) (string, bool) {
			return obs.Condition, obs.Condition != ""
		}),
	}
	return p, nil
}

// Name returns the platform identifier.
func (p *Platform) Name() string {
	return platformName
}

// Start announces the sensors and begins polling.
func (p *Platform) Start() error {
	if len(p.sensors) == 0 {
		p.logger.Info("No endpoint configured, weather platform disabled")
		return nil
	}

	for _, s := range p.sensors {
		if err := s.base.Announce(s.announceCfg); err != nil {
			return err
		}
		if err := s.base.Attributes.Publish(); err != nil {
			p.logger.Warn("Failed to publish attributes", zap.Error(err))
		}
	}

	p.poll()

	p.logger.Info("Weather platform started",
		zap.String("endpoint", p.endpoint),
		zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels polling.
func (p *Platform) Stop() {
	if len(p.sensors) == 0 {
		return
	}

	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	p.setAvailable(false)
}

// Reset polls immediately.
func (p *Platform) Reset() error {
	if len(p.sensors) > 0 {
		p.poll()
	}
	return nil
}

func (p *Platform) poll() {
	obs, err := p.fetch()
	if err != nil {
		// Transient failure: unavailable until the next successful cycle
		p.logger.Warn("Weather poll failed", zap.Error(err))
		p.setAvailable(false)
	} else {
		p.publish(obs)
		p.setAvailable(true)
	}

	p.mu.Lock()
	if !p.stopped {
		if p.timer == nil {
			p.timer = p.clk.AfterFunc(p.interval, p.poll)
		} else {
			p.timer.Reset(p.interval)
		}
	}
	p.mu.Unlock()
}

func (p *Platform) fetch() (*observation, error) {
	resp, err := p.client.Get(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var obs observation
	if err := json.Unmarshal(body, &obs); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &obs, nil
}

func (p *Platform) publish(obs *observation) {
	for _, s := range p.sensors {
		value, ok := s.format(obs)
		if !ok {
			// Malformed or missing reading: keep the previous value
			if s.lastValue != "" {
				continue
			}
			p.logger.Warn("Missing weather reading", zap.String("sensor", s.base.ObjectID))
			continue
		}

		if err := s.base.PublishState("state", value); err != nil {
			p.logger.Warn("Failed to publish reading",
				zap.String("sensor", s.base.ObjectID),
				zap.Error(err))
			continue
		}
		s.lastValue = value
	}
	metrics.EntityUpdates.WithLabelValues(platformName).Inc()
}

func (p *Platform) setAvailable(available bool) {
	for _, s := range p.sensors {
		var err error
		if available {
			err = s.base.Availability.SetOnline()
		} else {
			err = s.base.Availability.SetOffline()
		}
		if err != nil {
			p.logger.Warn("Failed to publish availability", zap.Error(err))
		}
		gauge := 0.0
		if available {
			gauge = 1.0
		}
		metrics.EntityAvailable.WithLabelValues(platformName, s.base.ObjectID).Set(gauge)
	}
}
