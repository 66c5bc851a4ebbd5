// Package mqtt wraps the Paho client for subscribing to device telemetry.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler processes one message. Returned errors are logged and the
// message is dropped.
type MessageHandler func(topic string, payload []byte) error

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type Client struct {
	client paho.Client
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]byte // topic -> qos
	cbs  map[string]paho.MessageHandler
}

// NewClient connects to the broker. The session is clean, so subscriptions
// are re-issued after every reconnect.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		logger: logger,
		subs:   map[string]byte{},
		cbs:    map[string]paho.MessageHandler{},
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(c.resubscribe)

	c.client = paho.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}
	logger.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("mqtt connected")
	return c, nil
}

func (c *Client) resubscribe(pc paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, qos := range c.subs {
		if token := pc.Subscribe(topic, qos, c.cbs[topic]); token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt resubscribe failed")
		}
	}
}

// Subscribe registers handler for topic, which may contain wildcards.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	cb := Dispatch(c.logger, handler)
	if token := c.client.Subscribe(topic, qos, cb); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	c.mu.Lock()
	c.subs[topic] = qos
	c.cbs[topic] = cb
	c.mu.Unlock()
	return nil
}

// Dispatch adapts a MessageHandler to a Paho callback that logs failures.
func Dispatch(logger zerolog.Logger, handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt message rejected")
		}
	}
}

// IsConnected reports whether the client currently holds a broker connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect waits up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
