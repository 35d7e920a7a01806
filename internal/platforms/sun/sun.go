// Package sun exposes the sun's position at a fixed location as entities: a
// binary sensor for above/below horizon and timestamp sensors for the next
// rising and setting. Everything is computed locally, no host entity is read.
package sun

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"

	"habridge/internal/clock"
	"habridge/internal/metrics"
	"habridge/pkg/entity"
	"habridge/pkg/platform"
)

const platformName = "sun"

// recheckInterval bounds how stale the computed times can get at polar
// latitudes, where a day may have no sunrise or sunset at all.
const recheckInterval = 6 * time.Hour

func init() {
	platform.Register(platform.Info{
		Name:        platformName,
		Description: "Computes sun above-horizon state and next rise/set times",
		Priority:    platform.PriorityDefault,
		Factory:     New,
	})
}

// Platform computes and publishes the sun entities.
type Platform struct {
	latitude  float64
	longitude float64
	clk       clock.Clock
	logger    *zap.Logger

	aboveHorizon *entity.Base
	nextRising   *entity.Base
	nextSetting  *entity.Base

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// New creates the sun platform. It is inert when no location is configured.
func New(ctx *platform.Context) (platform.Platform, error) {
	logger := ctx.Logger.Named(platformName)
	if ctx.Config.Sun == nil {
		return &Platform{logger: logger}, nil
	}

	newBase := func(component, name string) *entity.Base {
		return entity.New(component, name, ctx.Config.MQTT.Prefix,
			ctx.Publisher, ctx.Discovery, *ctx.Device, logger)
	}

	return &Platform{
		latitude:     ctx.Config.Sun.Latitude,
		longitude:    ctx.Config.Sun.Longitude,
		clk:          ctx.Clock,
		logger:       logger,
		aboveHorizon: newBase("binary_sensor", "Sun Above Horizon"),
		nextRising:   newBase("sensor", "Sun Next Rising"),
		nextSetting:  newBase("sensor", "Sun Next Setting"),
	}, nil
}

// Name returns the platform identifier.
func (p *Platform) Name() string {
	return platformName
}

// Start announces the entities and publishes the initial computation.
func (p *Platform) Start() error {
	if p.aboveHorizon == nil {
		p.logger.Info("No location configured, sun platform disabled")
		return nil
	}

	horizonCfg := p.aboveHorizon.BaseConfig()
	horizonCfg.StateTopic = p.aboveHorizon.Topic("state")
	horizonCfg.Icon = "mdi:weather-sunny"
	if err := p.aboveHorizon.Announce(horizonCfg); err != nil {
		return err
	}

	for _, base := range []*entity.Base{p.nextRising, p.nextSetting} {
		cfg := base.BaseConfig()
		cfg.StateTopic = base.Topic("state")
		cfg.DeviceClass = "timestamp"
		if err := base.Announce(cfg); err != nil {
			return err
		}
	}

	for _, base := range []*entity.Base{p.aboveHorizon, p.nextRising, p.nextSetting} {
		if err := base.Availability.SetOnline(); err != nil {
			p.logger.Warn("Failed to publish availability", zap.Error(err))
		}
	}

	p.update()

	p.logger.Info("Sun platform started",
		zap.Float64("latitude", p.latitude),
		zap.Float64("longitude", p.longitude))
	return nil
}

// Stop cancels the scheduled recomputation.
func (p *Platform) Stop() {
	if p.aboveHorizon == nil {
		return
	}

	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	for _, base := range []*entity.Base{p.aboveHorizon, p.nextRising, p.nextSetting} {
		if err := base.Availability.SetOffline(); err != nil {
			p.logger.Warn("Failed to publish availability", zap.Error(err))
		}
	}
}

// Reset recomputes and republishes immediately.
func (p *Platform) Reset() error {
	if p.aboveHorizon != nil {
		p.update()
	}
	return nil
}

// update publishes the current computation and schedules the next one just
// past the next rise/set boundary.
func (p *Platform) update() {
	now := p.clk.Now()
	above, nextRise, nextSet := p.compute(now)

	state := "OFF"
	if above {
		state = "ON"
	}
	if err := p.aboveHorizon.PublishState("state", state); err != nil {
		p.logger.Warn("Failed to publish state", zap.Error(err))
	}

	next := now.Add(recheckInterval)
	if !nextRise.IsZero() {
		if err := p.nextRising.PublishState("state", nextRise.Format(time.RFC3339)); err != nil {
			p.logger.Warn("Failed to publish next rising", zap.Error(err))
		}
		if nextRise.Before(next) {
			next = nextRise
		}
	}
	if !nextSet.IsZero() {
		if err := p.nextSetting.PublishState("state", nextSet.Format(time.RFC3339)); err != nil {
			p.logger.Warn("Failed to publish next setting", zap.Error(err))
		}
		if nextSet.Before(next) {
			next = nextSet
		}
	}
	metrics.EntityUpdates.WithLabelValues(platformName).Inc()

	p.logger.Debug("Sun times updated",
		zap.Bool("above_horizon", above),
		zap.Time("next_rising", nextRise),
		zap.Time("next_setting", nextSet))

	delay := next.Sub(now) + time.Second
	p.mu.Lock()
	if !p.stopped {
		if p.timer == nil {
			p.timer = p.clk.AfterFunc(delay, p.update)
		} else {
			p.timer.Reset(delay)
		}
	}
	p.mu.Unlock()
}

// compute returns whether the sun is up at now and the next rise/set times.
// Zero times mean the event does not occur within the next two days.
func (p *Platform) compute(now time.Time) (above bool, nextRise, nextSet time.Time) {
	for day := 0; day < 2; day++ {
		date := now.AddDate(0, 0, day)
		rise, set := sunrise.SunriseSunset(
			p.latitude, p.longitude,
			date.Year(), date.Month(), date.Day(),
		)
		if rise.IsZero() && set.IsZero() {
			continue
		}

		if day == 0 {
			above = !now.Before(rise) && now.Before(set)
		}
		if nextRise.IsZero() && rise.After(now) {
			nextRise = rise
		}
		if nextSet.IsZero() && set.After(now) {
			nextSet = set
		}
	}
	return above, nextRise, nextSet
}
