package device

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/pkg/broker"
)

// ErrAckTimeout: the reboot command was sent but the broker did not confirm it in time.
var ErrAckTimeout = broker.ErrAckTimeout

const rebootCommand = "reboot"

type ackPublisher interface {
	PublishAck(ctx context.Context, payload string, timeout time.Duration) error
}

// MQTTRebooter sends the reboot command on the node's command topic. There is no
// application-level reply, so the QoS 1 acknowledgment is the only confirmation.
type MQTTRebooter struct {
	pub     ackPublisher
	timeout time.Duration
}

func NewMQTTRebooter(pub ackPublisher, ackTimeout time.Duration) *MQTTRebooter {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &MQTTRebooter{pub: pub, timeout: ackTimeout}
}

func (r *MQTTRebooter) Reboot(ctx context.Context) error {
	return r.pub.PublishAck(ctx, rebootCommand, r.timeout)
}
