package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/skyassure/peerreview-backend/internal/http/handlers"
	httpMW "github.com/skyassure/peerreview-backend/internal/http/middleware"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/rbac"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	UserHandler          *httpH.UserHandler
	OrganizationHandler  *httpH.OrganizationHandler
	MembershipHandler    *httpH.MembershipHandler
	QuestionnaireHandler *httpH.QuestionnaireHandler
	AssessmentHandler    *httpH.AssessmentHandler
	ReviewHandler        *httpH.ReviewHandler
	FindingHandler       *httpH.FindingHandler
	ActionHandler        *httpH.ActionHandler
	NotificationHandler  *httpH.NotificationHandler
	ReportHandler        *httpH.ReportHandler
	StatisticsHandler    *httpH.StatisticsHandler
	SyncHandler          *httpH.SyncHandler
	JobHandler           *httpH.JobHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.CORS())
	r.Use(httpMW.AttachTraceContext())
	r.Use(otelgin.Middleware("peerreview-backend"))
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	if cfg.Metrics != nil {
		r.Use(httpMW.Metrics(cfg.Metrics))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/register", cfg.AuthHandler.Register)
			api.POST("/auth/login", cfg.AuthHandler.Login)
			api.POST("/auth/refresh", cfg.AuthHandler.Refresh)
		}

		// Onboarding (public)
		if cfg.OrganizationHandler != nil {
			api.POST("/organizations/apply", cfg.OrganizationHandler.Apply)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.POST("/auth/logout", cfg.AuthHandler.Logout)
		}

		// User (Me)
		if cfg.UserHandler != nil {
			protected.GET("/me", cfg.UserHandler.Me)
			protected.PATCH("/me", cfg.UserHandler.UpdateProfile)
			protected.POST("/me/avatar", cfg.UserHandler.UploadAvatar)
		}

		// Organization lifecycle
		if cfg.OrganizationHandler != nil {
			protected.GET("/organizations", cfg.OrganizationHandler.List)
			protected.GET("/organizations/:id", cfg.OrganizationHandler.Get)
			protected.PATCH("/organizations/:id", cfg.OrganizationHandler.Update)
			protected.POST("/organizations/:id/approve", cfg.OrganizationHandler.Approve)
			protected.POST("/organizations/:id/reject", cfg.OrganizationHandler.Reject)
			protected.POST("/organizations/:id/suspend", cfg.OrganizationHandler.Suspend)
			protected.POST("/organizations/:id/reinstate", cfg.OrganizationHandler.Reinstate)
			protected.POST("/organizations/:id/withdraw", cfg.OrganizationHandler.Withdraw)
			protected.POST("/organizations/:id/members", cfg.OrganizationHandler.InviteMember)
		}

		// Memberships
		if cfg.MembershipHandler != nil {
			protected.GET("/organizations/:id/members", cfg.MembershipHandler.ListByOrg)
			protected.GET("/me/memberships", cfg.MembershipHandler.ListMine)
			protected.PATCH("/memberships/:id", cfg.MembershipHandler.UpdateRole)
			protected.DELETE("/memberships/:id", cfg.MembershipHandler.Remove)
		}

		// Questionnaire authoring
		if cfg.QuestionnaireHandler != nil {
			protected.POST("/questionnaires", cfg.QuestionnaireHandler.CreateDraft)
			protected.GET("/questionnaires", cfg.QuestionnaireHandler.List)
			protected.GET("/questionnaires/:id", cfg.QuestionnaireHandler.Get)
			protected.GET("/questionnaires/:id/resolved", cfg.QuestionnaireHandler.GetResolved)
			protected.PATCH("/questionnaires/:id", cfg.QuestionnaireHandler.UpdateDraft)
			protected.POST("/questionnaires/:id/publish", cfg.QuestionnaireHandler.Publish)
			protected.POST("/questionnaires/:id/retire", cfg.QuestionnaireHandler.Retire)
			protected.POST("/questionnaires/:id/domains", cfg.QuestionnaireHandler.AddDomain)
			protected.PUT("/questionnaires/:id/domains/order", cfg.QuestionnaireHandler.ReorderDomains)
			protected.PATCH("/questionnaire-domains/:id", cfg.QuestionnaireHandler.UpdateDomain)
			protected.DELETE("/questionnaire-domains/:id", cfg.QuestionnaireHandler.DeleteDomain)
			protected.POST("/questionnaire-domains/:id/questions", cfg.QuestionnaireHandler.AddQuestion)
			protected.PUT("/questionnaire-domains/:id/questions/order", cfg.QuestionnaireHandler.ReorderQuestions)
			protected.PATCH("/questions/:id", cfg.QuestionnaireHandler.UpdateQuestion)
			protected.DELETE("/questions/:id", cfg.QuestionnaireHandler.DeleteQuestion)
		}

		// Self-assessments
		if cfg.AssessmentHandler != nil {
			protected.POST("/assessments", cfg.AssessmentHandler.Start)
			protected.GET("/assessments/:id", cfg.AssessmentHandler.Get)
			protected.PUT("/assessments/:id/answers", cfg.AssessmentHandler.Answer)
			protected.GET("/assessments/:id/progress", cfg.AssessmentHandler.Progress)
			protected.POST("/assessments/:id/submit", cfg.AssessmentHandler.Submit)
			protected.POST("/assessments/:id/reopen", cfg.AssessmentHandler.Reopen)
			protected.GET("/organizations/:id/assessments", cfg.AssessmentHandler.ListByOrg)
		}

		// Peer reviews
		if cfg.ReviewHandler != nil {
			protected.POST("/reviews", cfg.ReviewHandler.CreateDraft)
			protected.GET("/reviews", cfg.ReviewHandler.List)
			protected.GET("/reviews/upcoming", cfg.ReviewHandler.Upcoming)
			protected.GET("/reviews/by-reference/:reference", cfg.ReviewHandler.GetByReference)
			protected.GET("/reviews/:id", cfg.ReviewHandler.Get)
			protected.POST("/reviews/:id/schedule", cfg.ReviewHandler.Schedule)
			protected.POST("/reviews/:id/transition", cfg.ReviewHandler.Transition)
			protected.POST("/reviews/:id/team", cfg.ReviewHandler.AssignTeamMember)
			protected.PATCH("/reviews/:id/team/:userId", cfg.ReviewHandler.SetTeamRole)
			protected.DELETE("/reviews/:id/team/:userId", cfg.ReviewHandler.RemoveTeamMember)
			protected.POST("/reviews/:id/invitation", cfg.ReviewHandler.RespondInvitation)
		}

		// Findings
		if cfg.FindingHandler != nil {
			protected.POST("/reviews/:id/findings", cfg.FindingHandler.Record)
			protected.GET("/reviews/:id/findings", cfg.FindingHandler.ListByReview)
			protected.GET("/findings/:id", cfg.FindingHandler.Get)
			protected.PATCH("/findings/:id", cfg.FindingHandler.Update)
			protected.POST("/findings/:id/close", cfg.FindingHandler.Close)
			protected.POST("/findings/:id/evidence", cfg.FindingHandler.AttachEvidence)
		}

		// Corrective action plans
		if cfg.ActionHandler != nil {
			protected.POST("/findings/:id/actions", cfg.ActionHandler.Propose)
			protected.GET("/findings/:id/actions", cfg.ActionHandler.ListByFinding)
			protected.GET("/actions/:id", cfg.ActionHandler.Get)
			protected.PATCH("/actions/:id", cfg.ActionHandler.UpdateProposal)
			protected.POST("/actions/:id/transition", cfg.ActionHandler.Transition)
		}

		// Notifications (list + SSE)
		if cfg.NotificationHandler != nil {
			protected.GET("/notifications", cfg.NotificationHandler.List)
			protected.GET("/notifications/unread-count", cfg.NotificationHandler.UnreadCount)
			protected.POST("/notifications/:id/read", cfg.NotificationHandler.MarkRead)
			protected.POST("/notifications/read-all", cfg.NotificationHandler.MarkAllRead)
			protected.GET("/notifications/stream", cfg.NotificationHandler.Stream)
		}

		// Reports
		if cfg.ReportHandler != nil {
			protected.POST("/reviews/:id/report", cfg.ReportHandler.Request)
			protected.GET("/reviews/:id/report", cfg.ReportHandler.Current)
			protected.GET("/reviews/:id/report/runs", cfg.ReportHandler.ListRuns)
			protected.GET("/report-runs/:id", cfg.ReportHandler.GetRun)
		}

		// Statistics
		if cfg.StatisticsHandler != nil && cfg.AuthMiddleware != nil {
			statsRead := cfg.AuthMiddleware.RequirePermission(rbac.ResourceStatistics, rbac.ActionRead)
			protected.GET("/statistics/programme", statsRead, cfg.StatisticsHandler.ProgrammeOverview)
			protected.GET("/statistics/participation", statsRead, cfg.StatisticsHandler.Participation)
			protected.GET("/organizations/:id/dashboard", statsRead, cfg.StatisticsHandler.OrgDashboard)
		}

		// Offline sync
		if cfg.SyncHandler != nil && cfg.AuthMiddleware != nil {
			protected.POST("/sync/batch", cfg.AuthMiddleware.RequirePermission(rbac.ResourceSync, rbac.ActionCreate), cfg.SyncHandler.ApplyBatch)
			syncRead := cfg.AuthMiddleware.RequirePermission(rbac.ResourceSync, rbac.ActionRead)
			protected.GET("/sync/status", syncRead, cfg.SyncHandler.Status)
			protected.GET("/reviews/:id/sync-operations", syncRead, cfg.SyncHandler.ListByReview)
		}

		// Jobs
		if cfg.JobHandler != nil {
			protected.GET("/jobs/status", cfg.JobHandler.CountByStatus)
			protected.GET("/jobs/:id", cfg.JobHandler.Get)
			protected.POST("/jobs/:id/cancel", cfg.JobHandler.Cancel)
			protected.POST("/jobs/:id/restart", cfg.JobHandler.Restart)
		}
	}

	return r
}
