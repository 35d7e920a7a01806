// Package platform provides the platform system interfaces and registry for
// the bridge. Platforms register themselves with the global registry using
// init() functions, allowing for compile-time platform selection and override
// mechanisms for private implementations.
package platform

// Platform is the core interface that all platforms must implement.
// A platform owns the entities it exposes for one integration domain
// (e.g., covers, sun, weather).
type Platform interface {
	// Name returns the unique identifier for this platform.
	// This name is used for registration and logging.
	Name() string

	// Start begins the platform's operation.
	// - Announces its entities over discovery
	// - Sets up subscriptions to host state changes and commands
	// - Starts any background goroutines
	// - Returns error if initialization fails
	Start() error

	// Stop gracefully shuts down the platform.
	// - Unsubscribes from all state changes
	// - Stops any background goroutines
	// - Releases resources
	Stop()
}

// Resettable is an optional interface for platforms that can re-evaluate
// their state on demand, for example after the host connection is restored.
type Resettable interface {
	// Reset re-evaluates all inputs and republishes current state.
	Reset() error
}

// Factory is a function that creates a new platform instance given a context.
// Factories are registered with the global registry and called during
// application startup to instantiate platforms.
type Factory func(ctx *Context) (Platform, error)
