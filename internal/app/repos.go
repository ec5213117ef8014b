package app

import (
	"gorm.io/gorm"

	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type Repos struct {
	User          repos.UserRepo
	UserToken     repos.UserTokenRepo
	Organization  repos.OrganizationRepo
	Membership    repos.MembershipRepo
	Questionnaire repos.QuestionnaireRepo
	Assessment    repos.AssessmentRepo
	Review        repos.ReviewRepo
	Finding       repos.FindingRepo
	Action        repos.ActionRepo
	Notification  repos.NotificationRepo
	ReportRun     repos.ReportRunRepo
	SyncOperation repos.SyncOperationRepo
	JobRun        repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:          repos.NewUserRepo(db, log),
		UserToken:     repos.NewUserTokenRepo(db, log),
		Organization:  repos.NewOrganizationRepo(db, log),
		Membership:    repos.NewMembershipRepo(db, log),
		Questionnaire: repos.NewQuestionnaireRepo(db, log),
		Assessment:    repos.NewAssessmentRepo(db, log),
		Review:        repos.NewReviewRepo(db, log),
		Finding:       repos.NewFindingRepo(db, log),
		Action:        repos.NewActionRepo(db, log),
		Notification:  repos.NewNotificationRepo(db, log),
		ReportRun:     repos.NewReportRunRepo(db, log),
		SyncOperation: repos.NewSyncOperationRepo(db, log),
		JobRun:        repos.NewJobRunRepo(db, log),
	}
}
