package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPlatform implements the Platform interface for testing
type mockPlatform struct {
	name    string
	started bool
	stopped bool
}

func (m *mockPlatform) Name() string { return m.name }
func (m *mockPlatform) Start() error { m.started = true; return nil }
func (m *mockPlatform) Stop()        { m.stopped = true }

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        Info
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			info: Info{
				Name:        "test-platform",
				Description: "A test platform",
				Priority:    PriorityDefault,
				Factory:     func(ctx *Context) (Platform, error) { return &mockPlatform{name: "test"}, nil },
			},
			wantErr: false,
		},
		{
			name: "empty name",
			info: Info{
				Name:    "",
				Factory: func(ctx *Context) (Platform, error) { return nil, nil },
			},
			wantErr:     true,
			errContains: "name cannot be empty",
		},
		{
			name: "nil factory",
			info: Info{
				Name:    "test-platform",
				Factory: nil,
			},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.Register(tt.info)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_PriorityOverride(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(Info{
		Name:        "gencover",
		Description: "Default cover platform",
		Priority:    PriorityDefault,
		Factory: func(ctx *Context) (Platform, error) {
			return &mockPlatform{name: "default"}, nil
		},
	})
	require.NoError(t, err)

	info := registry.Get("gencover")
	require.NotNil(t, info)
	assert.Equal(t, PriorityDefault, info.Priority)

	// Register override priority platform
	err = registry.Register(Info{
		Name:        "gencover",
		Description: "Private cover platform",
		Priority:    PriorityOverride,
		Factory: func(ctx *Context) (Platform, error) {
			return &mockPlatform{name: "override"}, nil
		},
	})
	require.NoError(t, err)

	info = registry.Get("gencover")
	require.NotNil(t, info)
	assert.Equal(t, PriorityOverride, info.Priority)
	assert.Equal(t, "Private cover platform", info.Description)

	p, err := info.Factory(nil)
	require.NoError(t, err)
	assert.Equal(t, "override", p.Name())
}

func TestRegistry_LowerPrioritySkipped(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(Info{
		Name:        "gencover",
		Description: "High priority",
		Priority:    PriorityOverride,
		Factory:     func(ctx *Context) (Platform, error) { return &mockPlatform{name: "high"}, nil },
	})
	require.NoError(t, err)

	// Lower priority registration is skipped, not an error
	err = registry.Register(Info{
		Name:        "gencover",
		Description: "Low priority",
		Priority:    PriorityDefault,
		Factory:     func(ctx *Context) (Platform, error) { return &mockPlatform{name: "low"}, nil },
	})
	require.NoError(t, err)

	info := registry.Get("gencover")
	require.NotNil(t, info)
	assert.Equal(t, "High priority", info.Description)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()

	registry.Register(Info{
		Name:    "weather",
		Order:   90,
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{name: "weather"}, nil },
	})
	registry.Register(Info{
		Name:    "gencover",
		Order:   10,
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{name: "gencover"}, nil },
	})
	registry.Register(Info{
		Name:    "sun",
		Order:   50,
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{name: "sun"}, nil },
	})
	registry.Register(Info{
		Name:    "avr",
		Order:   50,
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{name: "avr"}, nil },
	})

	// List should be ordered by Order, then by name
	list := registry.List()
	require.Len(t, list, 4)

	assert.Equal(t, "gencover", list[0].Name) // Order 10
	assert.Equal(t, "avr", list[1].Name)      // Order 50, "a" < "s"
	assert.Equal(t, "sun", list[2].Name)      // Order 50, "s"
	assert.Equal(t, "weather", list[3].Name)  // Order 90
}

func TestRegistry_CreateAll(t *testing.T) {
	registry := NewRegistry()

	created := make([]string, 0)

	registry.Register(Info{
		Name:  "first",
		Order: 10,
		Factory: func(ctx *Context) (Platform, error) {
			created = append(created, "first")
			return &mockPlatform{name: "first"}, nil
		},
	})
	registry.Register(Info{
		Name:  "second",
		Order: 20,
		Factory: func(ctx *Context) (Platform, error) {
			created = append(created, "second")
			return &mockPlatform{name: "second"}, nil
		},
	})

	platforms, err := registry.CreateAll(nil)
	require.NoError(t, err)
	require.Len(t, platforms, 2)

	assert.Equal(t, []string{"first", "second"}, created)
	assert.Equal(t, "first", platforms[0].Name())
	assert.Equal(t, "second", platforms[1].Name())
}

func TestRegistry_CreateAll_ErrorCleanup(t *testing.T) {
	registry := NewRegistry()

	first := &mockPlatform{name: "first"}
	registry.Register(Info{
		Name:  "first",
		Order: 10,
		Factory: func(ctx *Context) (Platform, error) {
			return first, nil
		},
	})
	registry.Register(Info{
		Name:  "second",
		Order: 20,
		Factory: func(ctx *Context) (Platform, error) {
			return nil, errors.New("creation failed")
		},
	})

	platforms, err := registry.CreateAll(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create platform second")
	assert.Nil(t, platforms)

	assert.True(t, first.stopped, "first platform should have been stopped on cleanup")
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry := NewRegistry()
	assert.Nil(t, registry.Get("nonexistent"))
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()

	registry.Register(Info{
		Name:    "test",
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{}, nil },
	})
	assert.Len(t, registry.Names(), 1)

	registry.Clear()

	assert.Len(t, registry.Names(), 0)
	assert.Nil(t, registry.Get("test"))
}

func TestRegistry_DefaultOrder(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(Info{
		Name:    "test",
		Factory: func(ctx *Context) (Platform, error) { return &mockPlatform{}, nil },
	})
	require.NoError(t, err)

	info := registry.Get("test")
	require.NotNil(t, info)
	assert.Equal(t, 50, info.Order, "default order should be 50")
}

func TestGlobalRegistry(t *testing.T) {
	ClearGlobal()
	defer ClearGlobal()

	err := Register(Info{
		Name:        "global-test",
		Description: "Testing global registry",
		Factory:     func(ctx *Context) (Platform, error) { return &mockPlatform{name: "global"}, nil },
	})
	require.NoError(t, err)

	info := Get("global-test")
	require.NotNil(t, info)
	assert.Equal(t, "Testing global registry", info.Description)

	assert.Len(t, List(), 1)
	assert.Contains(t, Names(), "global-test")

	platforms, err := CreateAll(nil)
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	assert.Equal(t, "global", platforms[0].Name())
}
