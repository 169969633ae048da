package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrAckTimeout means the broker did not confirm the publish in time.
// The message may still have been delivered.
var ErrAckTimeout = errors.New("publish not acknowledged")

// IPublisher publishes text payloads on a fixed topic.
type IPublisher interface {
	PublishMessage(message interface{}) error
}

// publishClient is the subset of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Publisher struct {
	client  publishClient
	topic   string
	qos     byte
	timeout time.Duration
}

func NewPublisher(client publishClient, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos, timeout: 10 * time.Second}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage publishes a string or []byte payload and waits for the client to hand it off.
func (p *Publisher) PublishMessage(message interface{}) error {
	switch message.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("invalid message format %T, expected string or []byte", message)
	}
	token := p.client.Publish(p.topic, p.qos, false, message)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: %w", p.topic, ErrAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}
	return nil
}

// PublishAck publishes at QoS 1 and returns only once the broker acknowledged the message,
// the timeout elapsed (ErrAckTimeout) or ctx was cancelled.
func (p *Publisher) PublishAck(ctx context.Context, payload string, timeout time.Duration) error {
	token := p.client.Publish(p.topic, 1, false, payload)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %q to %s: %w", payload, p.topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publish %q to %s after %s: %w", payload, p.topic, timeout, ErrAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
