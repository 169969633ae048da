package broker

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
)

// Handler processes one delivered message. Returned errors are logged, never retried.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer is the subscription side used by services.
type IConsumer interface {
	Subscriber
	SetHandler(handler Handler)
}

// Consumer binds one topic to a handler.
type Consumer struct {
	mu      sync.RWMutex
	topic   string
	qos     byte
	handler Handler
	log     *logger.Logger
}

func NewConsumer(topic string, qos byte, handler Handler, log *logger.Logger) *Consumer {
	return &Consumer{topic: topic, qos: qos, handler: handler, log: log.Named("consumer")}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) SetHandler(handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Deliver runs the handler for a message; exposed for the subscription callback and tests.
func (c *Consumer) Deliver(msg mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.log.Warnw("no handler set", "topic", c.topic)
		return
	}
	if err := h(msg.Topic(), msg); err != nil {
		c.log.Warnw("error handling message", "topic", msg.Topic(), "err", err)
	}
}

func (c *Consumer) Subscribe(client mqtt.Client) error {
	token := client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.Deliver(msg)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", c.topic)
	}
	return token.Error()
}
