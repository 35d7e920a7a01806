// Package gencover exposes simulated covers built from pairs of observed
// switches. The host owns the switches; this platform only watches them and
// integrates elapsed time into a position estimate.
package gencover

import (
	"go.uber.org/zap"

	"habridge/pkg/platform"
)

const platformName = "gencover"

func init() {
	platform.Register(platform.Info{
		Name:        platformName,
		Description: "Simulates cover position from a pair of observed switches",
		Priority:    platform.PriorityDefault,
		Order:       10,
		Factory:     New,
	})
}

// Platform holds all configured covers.
type Platform struct {
	covers []*Cover
	logger *zap.Logger
}

// New creates the cover platform from the bridge configuration.
func New(ctx *platform.Context) (platform.Platform, error) {
	logger := ctx.Logger.Named(platformName)

	p := &Platform{logger: logger}
	for _, cfg := range ctx.Config.Covers {
		p.covers = append(p.covers, newCover(cfg, ctx, logger.Named(cfg.Name)))
	}
	return p, nil
}

// Name returns the platform identifier.
func (p *Platform) Name() string {
	return platformName
}

// Start announces and starts every configured cover.
func (p *Platform) Start() error {
	if len(p.covers) == 0 {
		p.logger.Info("No covers configured")
		return nil
	}

	for _, cover := range p.covers {
		if err := cover.Start(); err != nil {
			return err
		}
	}

	p.logger.Info("Cover platform started", zap.Int("covers", len(p.covers)))
	return nil
}

// Stop stops all covers.
func (p *Platform) Stop() {
	for _, cover := range p.covers {
		cover.Stop()
	}
}

// Reset republishes availability and state for every cover, used after the
// host connection is restored.
func (p *Platform) Reset() error {
	for _, cover := range p.covers {
		cover.refreshAvailability()
		cover.publishState()
	}
	return nil
}
