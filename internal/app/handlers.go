package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	internalhttp "github.com/skyassure/peerreview-backend/internal/http"
	httpH "github.com/skyassure/peerreview-backend/internal/http/handlers"
	httpMW "github.com/skyassure/peerreview-backend/internal/http/middleware"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/sse"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health        *httpH.HealthHandler
	Auth          *httpH.AuthHandler
	User          *httpH.UserHandler
	Organization  *httpH.OrganizationHandler
	Membership    *httpH.MembershipHandler
	Questionnaire *httpH.QuestionnaireHandler
	Assessment    *httpH.AssessmentHandler
	Review        *httpH.ReviewHandler
	Finding       *httpH.FindingHandler
	Action        *httpH.ActionHandler
	Notification  *httpH.NotificationHandler
	Report        *httpH.ReportHandler
	Statistics    *httpH.StatisticsHandler
	Sync          *httpH.SyncHandler
	Job           *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services, hub *sse.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:        httpH.NewHealthHandler(db),
		Auth:          httpH.NewAuthHandler(services.Auth),
		User:          httpH.NewUserHandler(services.User),
		Organization:  httpH.NewOrganizationHandler(services.Organization),
		Membership:    httpH.NewMembershipHandler(services.Membership),
		Questionnaire: httpH.NewQuestionnaireHandler(services.Questionnaire),
		Assessment:    httpH.NewAssessmentHandler(services.Assessment),
		Review:        httpH.NewReviewHandler(services.Review),
		Finding:       httpH.NewFindingHandler(services.Finding),
		Action:        httpH.NewActionHandler(services.Action),
		Notification:  httpH.NewNotificationHandler(services.Notification, hub),
		Report:        httpH.NewReportHandler(services.Report),
		Statistics:    httpH.NewStatisticsHandler(services.Statistics),
		Sync:          httpH.NewSyncHandler(services.Sync),
		Job:           httpH.NewJobHandler(services.Job),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireRouter(log *logger.Logger, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	return internalhttp.NewRouter(internalhttp.RouterConfig{
		Log:     log,
		Metrics: metrics,

		AuthHandler:    handlers.Auth,
		AuthMiddleware: middleware.Auth,

		UserHandler:          handlers.User,
		OrganizationHandler:  handlers.Organization,
		MembershipHandler:    handlers.Membership,
		QuestionnaireHandler: handlers.Questionnaire,
		AssessmentHandler:    handlers.Assessment,
		ReviewHandler:        handlers.Review,
		FindingHandler:       handlers.Finding,
		ActionHandler:        handlers.Action,
		NotificationHandler:  handlers.Notification,
		ReportHandler:        handlers.Report,
		StatisticsHandler:    handlers.Statistics,
		SyncHandler:          handlers.Sync,
		JobHandler:           handlers.Job,

		HealthHandler: handlers.Health,
	})
}
