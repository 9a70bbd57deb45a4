// Command shielddemo is a reference server embedding Shield in front of a
// single upstream: load config, build the server, run it until a signal
// asks it to stop.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/shieldgo/shield/internal/app"
	"github.com/shieldgo/shield/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	server, err := app.New(cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}
