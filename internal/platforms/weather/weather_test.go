package weather

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

func newWeatherPlatform(t *testing.T, endpoint string) (*Platform, *clock.MockClock, *testutil.RecordingPublisher) {
	t.Helper()

	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	pub := testutil.NewRecordingPublisher()
	ctx := &platform.Context{
		Publisher: pub,
		Discovery: &entity.Discovery{Prefix: "homeassistant", NodeID: "habridge"},
		Clock:     clk,
		Logger:    zaptest.NewLogger(t),
		Config: &config.Config{
			MQTT:    config.MQTTConfig{Prefix: "habridge"},
			Weather: &config.WeatherConfig{Endpoint: endpoint, Interval: 60},
		},
		Device: &entity.DeviceInfo{Name: "habridge"},
	}

	p, err := New(ctx)
	require.NoError(t, err)
	return p.(*Platform), clk, pub
}

func TestPollPublishesReadings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"temperature": 21.35, "humidity": 48, "pressure": 1013.2, "condition": "cloudy"}`))
	}))
	defer server.Close()

	p, _, pub := newWeatherPlatform(t, server.URL)
	require.NoError(t, p.Start())
	defer p.Stop()

	tests := []struct {
		topic string
		want  string
	}{
		{"habridge/sensor/weather_temperature/state", "21.3"},
		{"habridge/sensor/weather_humidity/state", "48.0"},
		{"habridge/sensor/weather_pressure/state", "1013.2"},
		{"habridge/sensor/weather_condition/state", "cloudy"},
	}
	for _, tt := range tests {
		payload, ok := pub.Last(tt.topic)
		require.True(t, ok, tt.topic)
		assert.Equal(t, tt.want, string(payload))
	}

	payload, ok := pub.Last("habridge/sensor/weather_temperature/available")
	require.True(t, ok)
	assert.Equal(t, entity.PayloadOnline, string(payload))
}

func TestPollFailureMarksUnavailable(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"temperature": 20, "humidity": 50, "pressure": 1000, "condition": "sunny"}`))
	}))
	defer server.Close()

	p, clk, pub := newWeatherPlatform(t, server.URL)
	require.NoError(t, p.Start())
	defer p.Stop()

	payload, _ := pub.Last("habridge/sensor/weather_temperature/available")
	require.Equal(t, entity.PayloadOnline, string(payload))

	failing.Store(true)
	clk.Advance(time.Minute)

	payload, _ = pub.Last("habridge/sensor/weather_temperature/available")
	assert.Equal(t, entity.PayloadOffline, string(payload))

	// The next successful cycle recovers
	failing.Store(false)
	clk.Advance(time.Minute)

	payload, _ = pub.Last("habridge/sensor/weather_temperature/available")
	assert.Equal(t, entity.PayloadOnline, string(payload))
}

func TestMissingReadingKeepsPreviousValue(t *testing.T) {
	var degraded atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if degraded.Load() {
			w.Write([]byte(`{"condition": "unknown"}`))
			return
		}
		w.Write([]byte(`{"temperature": 18.5, "humidity": 60, "pressure": 990, "condition": "rain"}`))
	}))
	defer server.Close()

	p, clk, pub := newWeatherPlatform(t, server.URL)
	require.NoError(t, p.Start())
	defer p.Stop()

	degraded.Store(true)
	clk.Advance(time.Minute)

	payload, _ := pub.Last("habridge/sensor/weather_temperature/state")
	assert.Equal(t, "18.5", string(payload), "missing reading must keep the previous value")
	payload, _ = pub.Last("habridge/sensor/weather_condition/state")
	assert.Equal(t, "unknown", string(payload))
}

func TestMalformedBodyMarksUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer server.Close()

	p, _, pub := newWeatherPlatform(t, server.URL)
	require.NoError(t, p.Start())
	defer p.Stop()

	payload, ok := pub.Last("habridge/sensor/weather_temperature/available")
	require.True(t, ok)
	assert.Equal(t, entity.PayloadOffline, string(payload))
}

func TestDisabledWithoutEndpoint(t *testing.T) {
	clk := clock.NewMockClock(time.Now())
	pub := testutil.NewRecordingPublisher()
	ctx := &platform.Context{
		Publisher: pub,
		Discovery: &entity.Discovery{Prefix: "homeassistant", NodeID: "habridge"},
		Clock:     clk,
		Logger:    zaptest.NewLogger(t),
		Config:    &config.Config{MQTT: config.MQTTConfig{Prefix: "habridge"}},
		Device:    &entity.DeviceInfo{Name: "habridge"},
	}

	p, err := New(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	_, ok := pub.Last("habridge/sensor/weather_temperature/state")
	assert.False(t, ok)
	p.Stop()
}
