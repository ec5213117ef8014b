package jobs

import (
	"context"
	"time"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/envutil"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/services"
)

// Sweeper enqueues the recurring maintenance jobs: the corrective-action
// due-date sweep and the nightly statistics rebuild. Dedupe keys carry the
// UTC date, so any number of server instances ticking concurrently still
// produce one run per job per day.
type Sweeper struct {
	log  *logger.Logger
	jobs services.JobService
}

func NewSweeper(baseLog *logger.Logger, jobs services.JobService) *Sweeper {
	return &Sweeper{
		log:  baseLog.With("component", "JobSweeper"),
		jobs: jobs,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	interval := envutil.Duration("JOB_SWEEP_INTERVAL", time.Hour)
	go func() {
		s.tick(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Sweeper) tick(ctx context.Context) {
	day := time.Now().UTC().Format("2006-01-02")
	s.enqueue(ctx, types.JobKindCapOverdueSweep, "cap_sweep:"+day)
	s.enqueue(ctx, types.JobKindStatsRebuild, "stats_rebuild:"+day)
}

func (s *Sweeper) enqueue(ctx context.Context, kind, dedupeKey string) {
	_, created, err := s.jobs.Enqueue(ctx, nil, services.EnqueueJobInput{
		Kind:       kind,
		EntityType: "programme",
		DedupeKey:  dedupeKey,
	})
	if err != nil {
		s.log.Warn("Scheduled job enqueue failed", "kind", kind, "error", err)
		return
	}
	if created {
		s.log.Info("Scheduled job enqueued", "kind", kind, "dedupe_key", dedupeKey)
	}
}
