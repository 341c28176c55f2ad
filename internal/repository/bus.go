package repository

import "context"

// MessageBus delivers outbox payloads to downstream consumers.
type MessageBus interface {
	Publish(ctx context.Context, topic string, data []byte) error
}
