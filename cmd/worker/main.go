package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skyassure/peerreview-backend/internal/app"
	"github.com/skyassure/peerreview-backend/internal/temporalx/temporalworker"
)

// The worker binary runs the job machinery without the HTTP surface: the
// polling claim loop, the recurring sweep scheduler and, when Temporal is
// configured, a task-queue worker for low-latency dispatch.
func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.Services.JobWorker.Start(ctx)
	a.Services.Sweeper.Start(ctx)

	if a.Clients.Temporal != nil {
		runner, err := temporalworker.NewRunner(a.Log, a.Clients.Temporal, a.DB, a.Repos.JobRun, a.Services.Registry)
		if err != nil {
			a.Log.Error("Temporal worker init failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Start(ctx); err != nil {
			a.Log.Error("Temporal worker start failed", "error", err)
			os.Exit(1)
		}
	}

	a.Log.Info("Worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Log.Info("Worker shutting down", "signal", sig.String())
}
