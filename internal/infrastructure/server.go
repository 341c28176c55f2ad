package infrastructure

import "context"

// Server is a long-running component. Start blocks until ctx is cancelled or
// the component fails; Stop releases it early.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
