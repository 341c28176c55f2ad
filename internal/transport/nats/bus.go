package nats

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Bus publishes outbox payloads as NATS subjects named after the topic.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// Publish hands data to the connection and flushes, so a nil error means the
// server has received the message.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.nc.Publish(topic, data); err != nil {
		return err
	}
	return b.nc.FlushWithContext(ctx)
}
