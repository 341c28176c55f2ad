package infrastructure

import (
	"context"
	"time"

	"creditflow/internal/logger"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	servers []Server
	log     *logger.Logger
}

func NewApp(servers []Server, log *logger.Logger) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{servers: servers, log: log}
}

// Run starts every server and stops them all once ctx is cancelled or any
// server returns an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	<-gctx.Done()
	a.log.Info(ctx, "shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			a.log.Error(ctx, "server stop failed", err)
		}
	}

	return g.Wait()
}
