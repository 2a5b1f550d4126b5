package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"mmcd/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

type mqttBackend struct {
	cfg  *config.MessagingConfig
	will *lastWill
	conn mqtt.Client

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

func newMQTTBackend(cfg *config.MessagingConfig, will *lastWill) *mqttBackend {
	return &mqttBackend{cfg: cfg, will: will, subs: make(map[string]mqtt.MessageHandler)}
}

func (b *mqttBackend) connect() error {
	clientID := b.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "mmcd-" + b.cfg.NodeID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", b.cfg.MQTT.Broker, b.cfg.MQTT.Port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(b.resubscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})
	if b.will != nil {
		opts.SetBinaryWill(b.will.topic, b.will.payload, mqttQoS, false)
	}

	b.conn = mqtt.NewClient(opts)
	token := b.conn.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		// ConnectRetry keeps trying in the background.
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.MQTT.Broker, errConnectPending)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// resubscribe restores subscriptions after the broker dropped the session.
func (b *mqttBackend) resubscribe(c mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, h := range b.subs {
		if t := c.Subscribe(topic, mqttQoS, h); t.Wait() && t.Error() != nil {
			log.Printf("messaging: mqtt resubscribe %s: %v", topic, t.Error())
		}
	}
}

func (b *mqttBackend) publish(topic string, payload []byte) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := b.conn.Publish(topic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

func (b *mqttBackend) subscribe(topic string, handler func([]byte)) error {
	h := func(_ mqtt.Client, msg mqtt.Message) { handler(msg.Payload()) }
	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()

	if !b.conn.IsConnected() {
		return nil // resubscribe picks it up on connect
	}
	token := b.conn.Subscribe(topic, mqttQoS, h)
	token.Wait()
	return token.Error()
}

func (b *mqttBackend) connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *mqttBackend) close() {
	if b.conn != nil {
		b.conn.Disconnect(1000)
	}
}
