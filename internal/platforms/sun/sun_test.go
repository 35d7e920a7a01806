package sun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"habridge/internal/clock"
	"habridge/internal/config"
	"habridge/pkg/entity"
	"habridge/pkg/platform"
	"habridge/pkg/testutil"
)

func newSunPlatform(t *testing.T, start time.Time, sunCfg *config.SunConfig) (*Platform, *clock.MockClock, *testutil.RecordingPublisher) {
	t.Helper()

	clk := clock.NewMockClock(start)
	pub := testutil.NewRecordingPublisher()
	ctx := &platform.Context{
		Publisher: pub,
		Discovery: &entity.Discovery{Prefix: "homeassistant", NodeID: "habridge"},
		Clock:     clk,
		Logger:    zaptest.NewLogger(t),
		Config: &config.Config{
			MQTT: config.MQTTConfig{Prefix: "habridge"},
			Sun:  sunCfg,
		},
		Device: &entity.DeviceInfo{Name: "habridge"},
	}

	p, err := New(ctx)
	require.NoError(t, err)
	return p.(*Platform), clk, pub
}

func TestAboveHorizonAtMidday(t *testing.T) {
	// Zurich, midday in June: the sun is definitely up
	p, _, pub := newSunPlatform(t,
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		&config.SunConfig{Latitude: 47.3769, Longitude: 8.5417})
	require.NoError(t, p.Start())

	payload, ok := pub.Last("habridge/binary_sensor/sun_above_horizon/state")
	require.True(t, ok)
	assert.Equal(t, "ON", string(payload))
}

func TestBelowHorizonAtMidnight(t *testing.T) {
	p, _, pub := newSunPlatform(t,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		&config.SunConfig{Latitude: 47.3769, Longitude: 8.5417})
	require.NoError(t, p.Start())

	payload, ok := pub.Last("habridge/binary_sensor/sun_above_horizon/state")
	require.True(t, ok)
	assert.Equal(t, "OFF", string(payload))
}

func TestNextTimesAreInTheFuture(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p, _, pub := newSunPlatform(t, start,
		&config.SunConfig{Latitude: 47.3769, Longitude: 8.5417})
	require.NoError(t, p.Start())

	for _, topic := range []string{
		"habridge/sensor/sun_next_rising/state",
		"habridge/sensor/sun_next_setting/state",
	} {
		payload, ok := pub.Last(topic)
		require.True(t, ok, topic)

		ts, err := time.Parse(time.RFC3339, string(payload))
		require.NoError(t, err)
		assert.True(t, ts.After(start), "%s must be in the future", topic)
		assert.True(t, ts.Before(start.Add(48*time.Hour)))
	}
}

func TestRecomputesAtSunset(t *testing.T) {
	p, clk, pub := newSunPlatform(t,
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		&config.SunConfig{Latitude: 47.3769, Longitude: 8.5417})
	require.NoError(t, p.Start())

	payload, _ := pub.Last("habridge/binary_sensor/sun_above_horizon/state")
	require.Equal(t, "ON", string(payload))

	// The scheduled recomputation just past sunset flips the sensor off
	clk.Advance(12 * time.Hour)

	payload, _ = pub.Last("habridge/binary_sensor/sun_above_horizon/state")
	assert.Equal(t, "OFF", string(payload))
}

func TestDisabledWithoutLocation(t *testing.T) {
	p, _, pub := newSunPlatform(t,
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), nil)

	require.NoError(t, p.Start())
	_, ok := pub.Last("habridge/binary_sensor/sun_above_horizon/state")
	assert.False(t, ok, "disabled platform must publish nothing")
	p.Stop()
}

func TestDiscoveryAnnounced(t *testing.T) {
	p, _, pub := newSunPlatform(t,
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		&config.SunConfig{Latitude: 47.3769, Longitude: 8.5417})
	require.NoError(t, p.Start())

	payload, ok := pub.Last("homeassistant/sensor/habridge/sun_next_rising/config")
	require.True(t, ok)
	assert.Contains(t, string(payload), `"device_class":"timestamp"`)
}
