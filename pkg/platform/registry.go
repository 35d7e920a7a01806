package platform

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Priority constants for platform registration.
// Higher priority values override lower priority platforms with the same name.
const (
	// PriorityDefault is the default priority for platforms.
	// Public/reference implementations should use this priority.
	PriorityDefault = 0

	// PriorityOverride is used by private implementations to override
	// public platforms. Private platforms should use this priority to
	// ensure they take precedence over the default implementation.
	PriorityOverride = 100
)

// Info contains metadata about a registered platform.
type Info struct {
	// Name is the unique identifier for the platform.
	// Platforms with the same name will override based on priority.
	Name string

	// Description is a human-readable description of the platform.
	Description string

	// Priority determines which platform wins when multiple platforms
	// register with the same name. Higher priority wins.
	Priority int

	// Factory creates new instances of the platform.
	Factory Factory

	// Order specifies the startup order. Lower values start first.
	// Platforms that depend on others should have higher order values.
	// Default is 50.
	Order int
}

// Registry manages platform registration and instantiation.
// It supports priority-based override, allowing private implementations
// to replace public ones at compile time through import ordering.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Info
	order     []string
}

// NewRegistry creates a new platform registry.
func NewRegistry() *Registry {
	return &Registry{
		platforms: make(map[string]Info),
		order:     make([]string, 0),
	}
}

// Register adds a platform to the registry.
// If a platform with the same name already exists, the one with higher
// priority wins. If priorities are equal, the later registration wins.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("platform name cannot be empty")
	}

	if info.Factory == nil {
		return fmt.Errorf("platform %s: factory cannot be nil", info.Name)
	}

	// Set default order if not specified
	if info.Order == 0 {
		info.Order = 50
	}

	existing, exists := r.platforms[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			log.Printf("Platform %q registration skipped (priority %d < existing %d)",
				info.Name, info.Priority, existing.Priority)
			return nil
		}

		log.Printf("Platform %q being overridden (priority %d -> %d)",
			info.Name, existing.Priority, info.Priority)
	}

	r.platforms[info.Name] = info

	if !exists {
		r.order = append(r.order, info.Name)
	}

	return nil
}

// Get returns the platform info for a given name, or nil if not found.
func (r *Registry) Get(name string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.platforms[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered platforms sorted by their startup order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.platforms))
	for _, name := range r.order {
		result = append(result, r.platforms[name])
	}

	// Sort by order (lower first), then by name for stability
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// CreateAll instantiates all registered platforms using the provided context.
// Platforms are created in order (by Order field), so dependencies should
// have lower Order values.
func (r *Registry) CreateAll(ctx *Context) ([]Platform, error) {
	platforms := r.List()
	result := make([]Platform, 0, len(platforms))

	for _, info := range platforms {
		p, err := info.Factory(ctx)
		if err != nil {
			// Clean up already-created platforms on error
			for i := len(result) - 1; i >= 0; i-- {
				result[i].Stop()
			}
			return nil, fmt.Errorf("failed to create platform %s: %w", info.Name, err)
		}
		result = append(result, p)
	}

	return result, nil
}

// Names returns the names of all registered platforms.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registered platforms. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.platforms = make(map[string]Info)
	r.order = make([]string, 0)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Register adds a platform to the global registry.
// This is typically called from init() functions in platform packages.
func Register(info Info) error {
	return globalRegistry.Register(info)
}

// Get returns platform info from the global registry.
func Get(name string) *Info {
	return globalRegistry.Get(name)
}

// List returns all platforms from the global registry.
func List() []Info {
	return globalRegistry.List()
}

// CreateAll creates all platforms from the global registry.
func CreateAll(ctx *Context) ([]Platform, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns all platform names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
