package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/force23airr/stableguard/app/ingest"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := ingest.Initialize(ctx)

	app.Start(ctx)
}
