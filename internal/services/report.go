package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/gcp"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// ReportDownload pairs the current run with a URL the client can fetch the
// PDF from.
type ReportDownload struct {
	Run *types.ReportRun `json:"run"`
	URL string           `json:"url"`
}

type ReportService interface {
	Request(ctx context.Context, reviewID uuid.UUID, language string) (*types.ReportRun, error)
	Current(ctx context.Context, reviewID uuid.UUID, language string) (*ReportDownload, error)
	ListRuns(ctx context.Context, reviewID uuid.UUID) ([]*types.ReportRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*types.ReportRun, error)
}

type reportService struct {
	db      *gorm.DB
	log     *logger.Logger
	repo    repos.ReportRunRepo
	reviews repos.ReviewRepo
	users   repos.UserRepo
	jobs    JobService
	bucket  gcp.BucketService
}

func NewReportService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.ReportRunRepo,
	reviews repos.ReviewRepo,
	users repos.UserRepo,
	jobs JobService,
	bucket gcp.BucketService,
) ReportService {
	return &reportService{
		db:      db,
		log:     baseLog.With("service", "ReportService"),
		repo:    repo,
		reviews: reviews,
		users:   users,
		jobs:    jobs,
		bucket:  bucket,
	}
}

// Request queues a report generation run. Only reviews that reached the
// reporting phase can be rendered, and one run per review and language is in
// flight at a time; the render itself happens on the job worker.
func (s *reportService) Request(ctx context.Context, reviewID uuid.UUID, language string) (*types.ReportRun, error) {
	actor, err := requireCoordinator(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}

	var run *types.ReportRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		review, err := s.reviews.GetByID(ctx, tx, reviewID)
		if err != nil {
			return apierr.Internal("review_lookup_failed", err)
		}
		if review == nil {
			return apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", reviewID))
		}
		switch review.Phase {
		case types.ReviewReporting, types.ReviewCompleted, types.ReviewClosed:
		default:
			return apierr.Conflict("review_not_reportable",
				fmt.Errorf("review %s is %s; reports start at the reporting phase", displayRef(review), review.Phase))
		}

		lang := language
		if lang == "" {
			lang = review.Language
		}
		lang = types.NormalizeLocale(lang)

		runs, err := s.repo.ListByReview(ctx, tx, review.ID)
		if err != nil {
			return apierr.Internal("report_run_lookup_failed", err)
		}
		for _, existing := range runs {
			if existing.Language != lang {
				continue
			}
			if existing.Status == types.ReportRunQueued || existing.Status == types.ReportRunRunning {
				return apierr.Conflict("report_run_in_progress",
					fmt.Errorf("a %s report for review %s is already being generated", lang, displayRef(review)))
			}
		}

		run = &types.ReportRun{
			ID:          uuid.New(),
			ReviewID:    review.ID,
			Language:    lang,
			Status:      types.ReportRunQueued,
			RequestedBy: actor.ID,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.ReportRun{run}); err != nil {
			return apierr.Internal("report_run_create_failed", err)
		}

		job, _, err := s.jobs.Enqueue(ctx, tx, EnqueueJobInput{
			Kind:       types.JobKindReportGenerate,
			EntityType: "report_run",
			EntityID:   &run.ID,
			Payload:    map[string]any{"report_run_id": run.ID.String()},
		})
		if err != nil {
			return apierr.Internal("report_job_enqueue_failed", err)
		}
		if job != nil {
			if err := s.repo.UpdateFields(ctx, tx, run.ID, map[string]interface{}{"job_id": job.ID}); err != nil {
				return apierr.Internal("report_run_create_failed", err)
			}
			run.JobID = &job.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("report run queued", "run_id", run.ID, "review_id", reviewID, "language", run.Language)
	return run, nil
}

// Current returns the promoted run for the review and language with its
// download URL.
func (s *reportService) Current(ctx context.Context, reviewID uuid.UUID, language string) (*ReportDownload, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	review, err := s.reviews.GetByID(ctx, nil, reviewID)
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", reviewID))
	}
	lang := language
	if lang == "" {
		lang = review.Language
	}
	lang = types.NormalizeLocale(lang)

	run, err := s.repo.GetCurrent(ctx, nil, review.ID, lang)
	if err != nil {
		return nil, apierr.Internal("report_run_lookup_failed", err)
	}
	if run == nil || run.ObjectKey == "" {
		return nil, apierr.NotFound("report_not_found",
			fmt.Errorf("no %s report has been published for review %s", lang, displayRef(review)))
	}
	return &ReportDownload{
		Run: run,
		URL: s.bucket.GetPublicURL(gcp.BucketCategoryReport, run.ObjectKey),
	}, nil
}

func (s *reportService) ListRuns(ctx context.Context, reviewID uuid.UUID) ([]*types.ReportRun, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	runs, err := s.repo.ListByReview(ctx, nil, reviewID)
	if err != nil {
		return nil, apierr.Internal("report_run_lookup_failed", err)
	}
	return runs, nil
}

func (s *reportService) GetRun(ctx context.Context, runID uuid.UUID) (*types.ReportRun, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	run, err := s.repo.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, apierr.Internal("report_run_lookup_failed", err)
	}
	if run == nil {
		return nil, apierr.NotFound("report_run_not_found", fmt.Errorf("report run %s not found", runID))
	}
	return run, nil
}
