package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when the bus provider is "grpc".
type GrpcBus struct {
	client *EventClient
}

func NewGrpcBus(cc grpc.ClientConnInterface) *GrpcBus {
	return &GrpcBus{client: NewEventClient(cc)}
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

// Publish sends an event to the remote EventService. A rejected event is an
// error so the outbox row stays pending.
func (b *GrpcBus) Publish(ctx context.Context, topic string, data []byte) error {
	resp, err := b.client.Publish(ctx, &EventRequest{Topic: topic, Payload: data})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("grpc bus: %s rejected: %s", topic, resp.Error)
	}
	return nil
}
