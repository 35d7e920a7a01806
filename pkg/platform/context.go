package platform

import (
	"habridge/internal/clock"
	"habridge/internal/config"
	"habridge/internal/ha"
	"habridge/internal/store"
	"habridge/pkg/entity"

	"go.uber.org/zap"
)

// Context provides dependencies to platforms during initialization.
// It wraps the core services needed by all platforms in a single struct
// for cleaner constructor signatures.
type Context struct {
	// HA provides access to the host for service calls and entity state
	// subscriptions.
	HA ha.HAClient

	// Publisher publishes entity state and subscribes to commands.
	Publisher entity.Publisher

	// Discovery announces entities on the host's discovery prefix.
	Discovery *entity.Discovery

	// Store persists platform state across restarts. May be nil when
	// persistence is disabled.
	Store *store.Store

	// Clock is the time source. Platforms must use it instead of the time
	// package so tests can control time.
	Clock clock.Clock

	// Logger is a structured logger for the platform to use.
	// Platforms should use Logger.Named("platformname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates whether the application is in read-only mode.
	// When true, platforms log what they would do but do not call host
	// services.
	ReadOnly bool

	// Config is the loaded bridge configuration.
	Config *config.Config

	// Device identifies the bridge in discovery payloads.
	Device *entity.DeviceInfo
}
