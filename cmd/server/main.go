package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyassure/peerreview-backend/internal/app"
	"github.com/skyassure/peerreview-backend/internal/platform/envutil"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	addr := envutil.Str("BIND_ADDR", ":8080")

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("HTTP server listening", "addr", addr)
		errCh <- a.Run(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			a.Log.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		a.Log.Info("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			a.Log.Warn("Graceful shutdown failed", "error", err)
		}
	}
}
