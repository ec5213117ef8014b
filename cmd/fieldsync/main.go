package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/skyassure/peerreview-backend/internal/fieldsync"
	"github.com/skyassure/peerreview-backend/internal/fieldsync/store"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

const usage = `usage: fieldsync <command>

commands:
  run                         drain the queue continuously
  drain                       push everything pending once, then exit
  queue <review-id> <kind>    queue an operation; payload JSON on stdin
  status                      print queue depth by state
  conflicts                   list conflicted operations
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := fieldsync.LoadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Error("Failed to create queue directory", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("Failed to open queue store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "run":
		engine := fieldsync.NewEngine(log, cfg, st)
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Error("Engine stopped", "error", err)
			os.Exit(1)
		}
	case "drain":
		engine := fieldsync.NewEngine(log, cfg, st)
		n, err := engine.Drain(ctx)
		if err != nil {
			log.Error("Drain failed", "acked", n, "error", err)
			os.Exit(1)
		}
		fmt.Printf("drained %d operation(s)\n", n)
	case "queue":
		if len(os.Args) < 4 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := queueOp(ctx, st, os.Args[2], os.Args[3]); err != nil {
			log.Error("Queue failed", "error", err)
			os.Exit(1)
		}
	case "status":
		counts, err := st.Counts(ctx)
		if err != nil {
			log.Error("Status failed", "error", err)
			os.Exit(1)
		}
		for state, n := range counts {
			fmt.Printf("%-12s %d\n", state, n)
		}
	case "conflicts":
		ops, err := st.ListByState(ctx, store.OpStateConflicted, 0)
		if err != nil {
			log.Error("List failed", "error", err)
			os.Exit(1)
		}
		for _, op := range ops {
			fmt.Printf("%s  %s  review=%s  server_version=%d  %s\n", op.ID, op.Kind, op.ReviewID, op.ServerVersion, op.LastError)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func queueOp(ctx context.Context, st *store.Store, reviewIDArg, kind string) error {
	reviewID, err := uuid.Parse(reviewIDArg)
	if err != nil {
		return fmt.Errorf("invalid review id: %w", err)
	}
	raw, err := json.Marshal(json.RawMessage(readStdin()))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	op := &store.QueuedOp{
		ReviewID: reviewID,
		Kind:     kind,
		Payload:  datatypes.JSON(raw),
	}
	if err := st.Enqueue(ctx, op); err != nil {
		return err
	}
	fmt.Printf("queued %s\n", op.ID)
	return nil
}

func readStdin() []byte {
	data, err := io.ReadAll(os.Stdin)
	if err != nil || len(data) == 0 {
		return []byte("{}")
	}
	return data
}
