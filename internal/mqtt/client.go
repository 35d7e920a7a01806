// Package mqtt wraps the paho MQTT client with the conventions the bridge
// uses: URL-based configuration (mqtt:// or mqtts:// with TLS options in the
// query string), a retained online/offline status topic backed by a last-will
// message, and automatic re-subscription after a reconnect.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type subscriptionInfo struct {
	qos      byte
	callback func(topic string, payload []byte)
}

// Client is a thin wrapper over the paho MQTT client.
type Client struct {
	URI      *url.URL
	ClientID string
	Prefix   string

	logger        *zap.Logger
	connection    paho.Client
	subscriptions map[string]subscriptionInfo
	subMu         sync.RWMutex
}

// NewClient connects to the broker at uri. The bridge's availability is
// published retained on <prefix>/status, with an "offline" last will.
func NewClient(uri *url.URL, clientID, prefix string, logger *zap.Logger) (*Client, error) {
	client := &Client{
		URI:           uri,
		ClientID:      clientID,
		Prefix:        prefix,
		logger:        logger.Named("mqtt"),
		subscriptions: make(map[string]subscriptionInfo),
	}

	opts, err := client.clientOptions()
	if err != nil {
		return nil, err
	}
	opts.SetWill(client.StatusTopic(), "offline", 1, true)

	client.connection = paho.NewClient(opts)
	token := client.connection.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return client, nil
}

// StatusTopic returns the bridge-level availability topic.
func (c *Client) StatusTopic() string {
	return fmt.Sprintf("%s/status", c.Prefix)
}

// Topic joins a suffix onto the configured topic prefix.
func (c *Client) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", c.Prefix, suffix)
}

// Publish publishes a payload on an absolute topic at QoS 0.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.connection.Publish(topic, 0, retain, payload)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			c.logger.Error("Publish failed",
				zap.String("topic", topic),
				zap.Error(token.Error()))
		}
	}()
	return nil
}

// PublishJSON marshals val and publishes it retained on an absolute topic.
func (c *Client) PublishJSON(topic string, val interface{}) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return c.Publish(topic, payload, true)
}

// Subscribe registers a handler for an absolute topic filter. Subscriptions
// are remembered and restored after a reconnect.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.subMu.Lock()
	c.subscriptions[topic] = subscriptionInfo{qos: 1, callback: handler}
	c.subMu.Unlock()

	token := c.connection.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	token := c.connection.Publish(c.StatusTopic(), 1, true, "offline")
	token.WaitTimeout(time.Second)
	c.connection.Disconnect(250)
}

func (c *Client) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()

	port := c.URI.Port()
	if port == "" {
		if c.URI.Scheme == "mqtts" {
			port = "8883"
		} else {
			port = "1883"
		}
	}

	if c.URI.Scheme == "mqtts" {
		query := c.URI.Query()
		tlsCert := query.Get("tls_cert")
		tlsKey := query.Get("tls_key")
		caCert := query.Get("tls_cacert")
		insecure := query.Get("insecure")

		tlsConfig := &tls.Config{}

		if insecure == "true" {
			tlsConfig.InsecureSkipVerify = true
		}

		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load tls cert and key: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		if caCert != "" {
			caCertPool := x509.NewCertPool()
			caCertData, err := os.ReadFile(caCert)
			if err != nil {
				return nil, fmt.Errorf("failed to read ca cert: %w", err)
			}
			caCertPool.AppendCertsFromPEM(caCertData)
			tlsConfig.RootCAs = caCertPool
		}

		opts.SetTLSConfig(tlsConfig)
		opts.AddBroker(fmt.Sprintf("ssl://%s:%s", c.URI.Hostname(), port))
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%s", c.URI.Hostname(), port))
	}

	opts.SetUsername(c.URI.User.Username())
	password, _ := c.URI.User.Password()
	opts.SetPassword(password)
	opts.SetClientID(c.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Error("Connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.logger.Warn("Reconnecting")
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.logger.Info("Connected", zap.String("broker", c.URI.Host))

		// Republish online status on every connection
		c.connection.Publish(c.StatusTopic(), 1, true, "online")

		// Restore all subscriptions after reconnection
		c.subMu.RLock()
		defer c.subMu.RUnlock()

		for topic, sub := range c.subscriptions {
			subInfo := sub
			token := c.connection.Subscribe(topic, subInfo.qos, func(_ paho.Client, msg paho.Message) {
				subInfo.callback(msg.Topic(), msg.Payload())
			})
			token.Wait()
			if err := token.Error(); err != nil {
				c.logger.Error("Failed to resubscribe",
					zap.String("topic", topic),
					zap.Error(err))
			}
		}
	})

	return opts, nil
}
