package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"creditflow/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "application stopped with error: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}
