package messaging

import (
	"errors"
	"fmt"
	"sync"

	"mmcd/config"
)

// Transport is what the listener, publisher and drainer need from a bus client.
type Transport interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// errConnectPending means the broker has not answered yet but the backend
// keeps retrying on its own.
var errConnectPending = errors.New("connection pending")

// backend is one broker implementation behind Client.
type backend interface {
	connect() error
	publish(topic string, payload []byte) error
	subscribe(topic string, handler func([]byte)) error
	connected() bool
	close()
}

// Client is the management-bus client. The broker is chosen by
// messaging.backend (mqtt or kafka).
type Client struct {
	mu   sync.RWMutex
	cfg  *config.MessagingConfig
	will *lastWill
	be   backend
}

type lastWill struct {
	topic   string
	payload []byte
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithWill registers a message the broker publishes if this controller drops
// off the bus without closing cleanly. Only MQTT supports it.
func WithWill(topic string, payload []byte) ClientOption {
	return func(c *Client) { c.will = &lastWill{topic: topic, payload: payload} }
}

// NewClient creates a messaging client based on config.
func NewClient(cfg *config.MessagingConfig, opts ...ClientOption) *Client {
	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes the broker connection. If the broker is slow to answer
// the client stays usable and connects in the background; other failures
// leave it unconnected and Connect may be retried.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var be backend
	switch c.cfg.Backend {
	case "mqtt":
		be = newMQTTBackend(c.cfg, c.will)
	case "kafka":
		be = newKafkaBackend(c.cfg)
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
	err := be.connect()
	if err == nil || errors.Is(err, errConnectPending) {
		c.be = be
	}
	return err
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.be == nil {
		return fmt.Errorf("%s not connected", c.cfg.Backend)
	}
	return c.be.publish(topic, payload)
}

// Subscribe registers a handler for messages on topic. Messages on one topic
// are delivered to handler one at a time, in order.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.be == nil {
		return fmt.Errorf("%s not connected", c.cfg.Backend)
	}
	return c.be.subscribe(topic, handler)
}

// IsConnected returns whether the broker is currently reachable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.be != nil && c.be.connected()
}

// Close shuts down the broker connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.be != nil {
		c.be.close()
		c.be = nil
	}
}
