package ha

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockServer creates a mock host WebSocket server
func mockServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("Failed to upgrade connection: %v", err)
		}
		defer conn.Close()

		handler(conn)
	}))
}

// standardAuthFlow handles the standard authentication flow
func standardAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	// Send auth_required
	err := conn.WriteJSON(Message{Type: "auth_required"})
	require.NoError(t, err)

	// Receive auth message
	var authMsg AuthMessage
	err = conn.ReadJSON(&authMsg)
	require.NoError(t, err)
	assert.Equal(t, "auth", authMsg.Type)
	assert.Equal(t, token, authMsg.AccessToken)

	// Send auth_ok
	err = conn.WriteJSON(Message{Type: "auth_ok"})
	require.NoError(t, err)
}

// ackSubscribeEvents acknowledges the client's state_changed subscription
func ackSubscribeEvents(conn *websocket.Conn) {
	var subMsg SubscribeEventsRequest
	conn.ReadJSON(&subMsg)
	success := true
	conn.WriteJSON(Message{
		ID:      subMsg.ID,
		Type:    "result",
		Success: &success,
	})
}

func TestClient_Connect(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	t.Run("successful connection", func(t *testing.T) {
		server := mockServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			ackSubscribeEvents(conn)

			// Keep connection open
			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, token, logger)

		err := client.Connect()
		assert.NoError(t, err)
		assert.True(t, client.IsConnected())

		client.Disconnect()
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockServer(t, func(conn *websocket.Conn) {
			// Send auth_required
			conn.WriteJSON(Message{Type: "auth_required"})

			// Receive auth message
			var authMsg AuthMessage
			conn.ReadJSON(&authMsg)

			// Send auth_invalid
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, "wrong_token", logger)

		err := client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsConnected())
	})

	t.Run("already connected", func(t *testing.T) {
		server := mockServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn, token)
			ackSubscribeEvents(conn)

			time.Sleep(100 * time.Millisecond)
		})
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		client := NewClient(url, token, logger)

		err := client.Connect()
		require.NoError(t, err)

		err = client.Connect()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")

		client.Disconnect()
	})
}

func TestClient_GetAllStates(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		ackSubscribeEvents(conn)

		// Handle get_states request
		var statesReq GetStatesRequest
		conn.ReadJSON(&statesReq)

		states := []*State{
			{
				EntityID: "switch.shutter_up",
				State:    "on",
				Attributes: map[string]interface{}{
					"friendly_name": "Shutter Up",
				},
			},
			{
				EntityID: "switch.shutter_down",
				State:    "off",
				Attributes: map[string]interface{}{
					"friendly_name": "Shutter Down",
				},
			},
		}

		statesJSON, _ := json.Marshal(states)
		success := true
		conn.WriteJSON(Message{
			ID:      statesReq.ID,
			Type:    "result",
			Success: &success,
			Result:  statesJSON,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	states, err := client.GetAllStates()
	assert.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, "switch.shutter_up", states[0].EntityID)
	assert.Equal(t, "on", states[0].State)
}

func TestClient_GetState(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		ackSubscribeEvents(conn)

		// Handle get_states request
		var statesReq GetStatesRequest
		conn.ReadJSON(&statesReq)

		states := []*State{
			{
				EntityID: "switch.shutter_up",
				State:    "on",
			},
		}

		statesJSON, _ := json.Marshal(states)
		success := true
		conn.WriteJSON(Message{
			ID:      statesReq.ID,
			Type:    "result",
			Success: &success,
			Result:  statesJSON,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	state, err := client.GetState("switch.shutter_up")
	assert.NoError(t, err)
	assert.Equal(t, "switch.shutter_up", state.EntityID)
	assert.Equal(t, "on", state.State)
	assert.True(t, state.IsOn())

	_, err = client.GetState("nonexistent")
	assert.Error(t, err)
}

func TestClient_CallService(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		ackSubscribeEvents(conn)

		// Handle call_service request
		var serviceReq CallServiceRequest
		conn.ReadJSON(&serviceReq)

		assert.Equal(t, "switch", serviceReq.Domain)
		assert.Equal(t, "turn_on", serviceReq.Service)
		assert.Equal(t, "switch.shutter_up", serviceReq.ServiceData["entity_id"])

		success := true
		conn.WriteJSON(Message{
			ID:      serviceReq.ID,
			Type:    "result",
			Success: &success,
		})

		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	err := client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	err = client.CallService("switch", "turn_on", map[string]interface{}{
		"entity_id": "switch.shutter_up",
	})
	assert.NoError(t, err)
}

func TestClient_SwitchHelpers(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	testCases := []struct {
		name    string
		turnOn  bool
		service string
	}{
		{"turn on", true, "turn_on"},
		{"turn off", false, "turn_off"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := mockServer(t, func(conn *websocket.Conn) {
				standardAuthFlow(t, conn, token)
				ackSubscribeEvents(conn)

				// Handle service call
				var serviceReq CallServiceRequest
				conn.ReadJSON(&serviceReq)

				assert.Equal(t, "switch", serviceReq.Domain)
				assert.Equal(t, tc.service, serviceReq.Service)
				assert.Equal(t, "switch.shutter_up", serviceReq.ServiceData["entity_id"])

				success := true
				conn.WriteJSON(Message{
					ID:      serviceReq.ID,
					Type:    "result",
					Success: &success,
				})

				time.Sleep(50 * time.Millisecond)
			})
			defer server.Close()

			url := "ws" + strings.TrimPrefix(server.URL, "http")
			client := NewClient(url, token, logger)

			err := client.Connect()
			require.NoError(t, err)
			defer client.Disconnect()

			if tc.turnOn {
				err = client.TurnOnSwitch("switch.shutter_up")
			} else {
				err = client.TurnOffSwitch("switch.shutter_up")
			}
			assert.NoError(t, err)
		})
	}
}

func TestClient_StateChangeEvents(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	token := "test_token"

	server := mockServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn, token)
		ackSubscribeEvents(conn)

		// Broadcast a state_changed event
		eventData, _ := json.Marshal(StateChangedEvent{
			EntityID: "switch.shutter_up",
			NewState: &State{EntityID: "switch.shutter_up", State: "on"},
			OldState: &State{EntityID: "switch.shutter_up", State: "off"},
		})
		conn.WriteJSON(Message{
			Type: "event",
			Event: &Event{
				EventType: "state_changed",
				Data:      eventData,
				Origin:    "LOCAL",
				TimeFired: time.Now(),
			},
		})

		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(url, token, logger)

	received := make(chan *State, 1)
	_, err := client.SubscribeStateChanges("switch.shutter_up", func(_ string, _, newState *State) {
		received <- newState
	})
	require.NoError(t, err)

	err = client.Connect()
	require.NoError(t, err)
	defer client.Disconnect()

	select {
	case state := <-received:
		assert.Equal(t, "on", state.State)
	case <-time.After(time.Second):
		t.Fatal("state change event never delivered")
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	t.Run("connection", func(t *testing.T) {
		assert.False(t, mock.IsConnected())

		err := mock.Connect()
		assert.NoError(t, err)
		assert.True(t, mock.IsConnected())

		err = mock.Connect()
		assert.Error(t, err)

		err = mock.Disconnect()
		assert.NoError(t, err)
		assert.False(t, mock.IsConnected())
	})

	t.Run("state management", func(t *testing.T) {
		mock.SetState("switch.shutter_up", "on", map[string]interface{}{
			"friendly_name": "Shutter Up",
		})

		state, err := mock.GetState("switch.shutter_up")
		assert.NoError(t, err)
		assert.Equal(t, "on", state.State)

		_, err = mock.GetState("nonexistent")
		assert.Error(t, err)
	})

	t.Run("service calls", func(t *testing.T) {
		mock.ClearServiceCalls()

		err := mock.TurnOnSwitch("switch.shutter_up")
		assert.NoError(t, err)

		calls := mock.GetServiceCalls()
		assert.Len(t, calls, 1)
		assert.Equal(t, "switch", calls[0].Domain)
		assert.Equal(t, "turn_on", calls[0].Service)
		assert.Equal(t, 1, mock.CountServiceCalls("switch", "turn_on", "switch.shutter_up"))
	})

	t.Run("auto ack notifies subscribers", func(t *testing.T) {
		var lastState string
		_, err := mock.SubscribeStateChanges("switch.shutter_down", func(_ string, _, newState *State) {
			lastState = newState.State
		})
		assert.NoError(t, err)

		err = mock.TurnOnSwitch("switch.shutter_down")
		assert.NoError(t, err)
		assert.Equal(t, "on", lastState)

		err = mock.TurnOffSwitch("switch.shutter_down")
		assert.NoError(t, err)
		assert.Equal(t, "off", lastState)
	})

	t.Run("simulated changes notify subscribers", func(t *testing.T) {
		callCount := 0
		handler := func(entityID string, oldState, newState *State) {
			callCount++
			assert.Equal(t, "switch.shutter_up", entityID)
			assert.Equal(t, "off", newState.State)
		}

		_, err := mock.SubscribeStateChanges("switch.shutter_up", handler)
		assert.NoError(t, err)

		mock.SimulateStateChange("switch.shutter_up", "off")
		assert.Equal(t, 1, callCount)
	})
}
