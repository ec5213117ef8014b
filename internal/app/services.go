package app

import (
	"gorm.io/gorm"

	"github.com/skyassure/peerreview-backend/internal/jobs"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/services"
	"github.com/skyassure/peerreview-backend/internal/sse"
	"github.com/skyassure/peerreview-backend/internal/temporalx"
)

type Services struct {
	Avatar        services.AvatarService
	Auth          services.AuthService
	User          services.UserService
	Organization  services.OrganizationService
	Membership    services.MembershipService
	Questionnaire services.QuestionnaireService
	Assessment    services.AssessmentService
	Review        services.ReviewService
	Finding       services.FindingService
	Action        services.ActionService
	Notification  services.NotificationService
	Report        services.ReportService
	Statistics    services.StatisticsService
	Sync          services.SyncService
	Job           services.JobService

	StatsCache *services.StatsCache

	Registry  *jobs.Registry
	JobWorker *jobs.Worker
	Sweeper   *jobs.Sweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, r Repos, hub *sse.Hub) (Services, error) {
	log.Info("Wiring services...")

	statsCache := services.NewStatsCache(clients.Redis, cfg.StatsCacheTTL, log)

	avatar, err := services.NewAvatarService(log, clients.Bucket)
	if err != nil {
		return Services{}, err
	}

	jobSvc := services.NewJobService(db, log, r.JobRun, clients.Temporal, temporalx.LoadConfig().TaskQueue)

	// Notifications fan out through the redis bus when it is configured;
	// otherwise they go straight to the local hub.
	var pub services.NotificationPublisher
	if clients.Bus != nil {
		pub = clients.Bus
	} else if hub != nil {
		pub = hubPublisher{hub: hub}
	}
	notify := services.NewNotificationService(db, log, r.Notification, r.User, jobSvc, pub)

	auth := services.NewAuthService(db, log, r.User, r.UserToken, r.Membership, avatar, cfg.JWTSecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	user := services.NewUserService(db, log, r.User, avatar)
	org := services.NewOrganizationService(db, log, r.Organization, r.Membership, r.User, avatar, notify, clients.Graph)
	membership := services.NewMembershipService(db, log, r.Membership, r.User)
	questionnaire := services.NewQuestionnaireService(db, log, r.Questionnaire, r.User)
	assessment := services.NewAssessmentService(db, log, r.Assessment, r.Questionnaire, r.Organization, r.Membership, r.User, notify)
	review := services.NewReviewService(db, log, r.Review, r.Organization, r.Membership, r.User, r.Questionnaire, r.ReportRun, notify, clients.Graph, statsCache)
	finding := services.NewFindingService(db, log, r.Finding, r.Action, r.Review, r.Membership, r.User, notify, clients.Bucket, statsCache)
	action := services.NewActionService(db, log, r.Action, r.Finding, r.Review, r.Membership, r.User, notify, statsCache)
	report := services.NewReportService(db, log, r.ReportRun, r.Review, r.User, jobSvc, clients.Bucket)
	statistics := services.NewStatisticsService(db, log, statsCache, r.Organization, r.Review, r.Finding, r.Action, r.Assessment, r.Questionnaire, r.Membership, r.User)
	syncSvc := services.NewSyncService(db, log, r.SyncOperation, r.Assessment, r.Questionnaire, r.Finding, r.Review, r.User, statsCache)

	registry := jobs.NewRegistry()
	if err := registry.Register(jobs.NewReportGenerateHandler(log, r.ReportRun, r.Review, r.Finding, r.Action, r.Organization, r.User, r.Questionnaire, r.Membership, clients.Bucket, notify)); err != nil {
		return Services{}, err
	}
	if err := registry.Register(jobs.NewNotifyEmailHandler(log, r.Notification, r.User, clients.Mail)); err != nil {
		return Services{}, err
	}
	if err := registry.Register(jobs.NewCapSweepHandler(log, r.Action, r.Finding, r.Review, r.Membership, notify)); err != nil {
		return Services{}, err
	}
	if err := registry.Register(jobs.NewStatsRebuildHandler(log, statistics)); err != nil {
		return Services{}, err
	}

	return Services{
		Avatar:        avatar,
		Auth:          auth,
		User:          user,
		Organization:  org,
		Membership:    membership,
		Questionnaire: questionnaire,
		Assessment:    assessment,
		Review:        review,
		Finding:       finding,
		Action:        action,
		Notification:  notify,
		Report:        report,
		Statistics:    statistics,
		Sync:          syncSvc,
		Job:           jobSvc,

		StatsCache: statsCache,

		Registry:  registry,
		JobWorker: jobs.NewWorker(db, log, r.JobRun, registry),
		Sweeper:   jobs.NewSweeper(log, jobSvc),
	}, nil
}
