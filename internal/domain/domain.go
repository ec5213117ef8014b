package domain

import (
	"time"

	"github.com/skyassure/peerreview-backend/internal/domain/assess"
	"github.com/skyassure/peerreview-backend/internal/domain/common"
	"github.com/skyassure/peerreview-backend/internal/domain/identity"
	"github.com/skyassure/peerreview-backend/internal/domain/jobs"
	"github.com/skyassure/peerreview-backend/internal/domain/notify"
	"github.com/skyassure/peerreview-backend/internal/domain/orgs"
	"github.com/skyassure/peerreview-backend/internal/domain/reports"
	"github.com/skyassure/peerreview-backend/internal/domain/reviews"
	"github.com/skyassure/peerreview-backend/internal/domain/syncops"
)

const (
	LocaleEN = common.LocaleEN
	LocaleFR = common.LocaleFR
)

type BilingualText = common.BilingualText

func NormalizeLocale(locale string) string { return common.NormalizeLocale(locale) }

type User = identity.User
type UserToken = identity.UserToken
type Membership = identity.Membership

const (
	ProgrammeRoleCoordinator = identity.ProgrammeRoleCoordinator
	ProgrammeRoleAuditor     = identity.ProgrammeRoleAuditor

	OrgRoleAdmin         = identity.OrgRoleAdmin
	OrgRoleSafetyManager = identity.OrgRoleSafetyManager
	OrgRoleReviewer      = identity.OrgRoleReviewer
	OrgRoleMember        = identity.OrgRoleMember
)

func ValidOrgRole(role string) bool { return identity.ValidOrgRole(role) }

type Organization = orgs.Organization

const (
	OrgApplied   = orgs.StatusApplied
	OrgActive    = orgs.StatusActive
	OrgSuspended = orgs.StatusSuspended
	OrgWithdrawn = orgs.StatusWithdrawn
	OrgRejected  = orgs.StatusRejected
)

func CanTransitionOrgStatus(from, to string) bool { return orgs.CanTransitionStatus(from, to) }

type Questionnaire = assess.Questionnaire
type QuestionnaireDomain = assess.QuestionnaireDomain
type Question = assess.Question
type SelfAssessment = assess.SelfAssessment
type AssessmentAnswer = assess.AssessmentAnswer

const (
	QuestionnaireDraft     = assess.QuestionnaireDraft
	QuestionnairePublished = assess.QuestionnairePublished
	QuestionnaireRetired   = assess.QuestionnaireRetired

	QuestionKindMaturity  = assess.QuestionKindMaturity
	QuestionKindYesNo     = assess.QuestionKindYesNo
	QuestionKindNarrative = assess.QuestionKindNarrative

	MaturityMin = assess.MaturityMin
	MaturityMax = assess.MaturityMax

	AssessmentInProgress = assess.AssessmentInProgress
	AssessmentSubmitted  = assess.AssessmentSubmitted
	AssessmentReopened   = assess.AssessmentReopened
)

func MaturityLabel(level int) string { return assess.MaturityLabel(level) }
func ValidQuestionKind(kind string) bool { return assess.ValidQuestionKind(kind) }

type PeerReview = reviews.PeerReview
type ReviewTeamMember = reviews.ReviewTeamMember
type Finding = reviews.Finding
type FieldNote = reviews.FieldNote
type CorrectiveAction = reviews.CorrectiveAction
type ActionHistoryEntry = reviews.ActionHistoryEntry

const (
	ReviewDraft     = reviews.PhaseDraft
	ReviewScheduled = reviews.PhaseScheduled
	ReviewFieldwork = reviews.PhaseFieldwork
	ReviewReporting = reviews.PhaseReporting
	ReviewCompleted = reviews.PhaseCompleted
	ReviewClosed    = reviews.PhaseClosed
	ReviewCancelled = reviews.PhaseCancelled

	TeamRoleLead     = reviews.TeamRoleLead
	TeamRoleReviewer = reviews.TeamRoleReviewer
	TeamRoleObserver = reviews.TeamRoleObserver

	InviteInvited  = reviews.InviteInvited
	InviteAccepted = reviews.InviteAccepted
	InviteDeclined = reviews.InviteDeclined

	CoolingOffCycles = reviews.CoolingOffCycles

	FindingKindNonConformity = reviews.FindingKindNonConformity
	FindingKindObservation   = reviews.FindingKindObservation
	FindingKindGoodPractice  = reviews.FindingKindGoodPractice

	SeverityMinor    = reviews.SeverityMinor
	SeverityMajor    = reviews.SeverityMajor
	SeverityCritical = reviews.SeverityCritical

	FindingOpen   = reviews.FindingOpen
	FindingClosed = reviews.FindingClosed

	ActionProposed    = reviews.ActionProposed
	ActionAccepted    = reviews.ActionAccepted
	ActionInProgress  = reviews.ActionInProgress
	ActionImplemented = reviews.ActionImplemented
	ActionVerified    = reviews.ActionVerified
	ActionClosed      = reviews.ActionClosedState
	ActionRejected    = reviews.ActionRejected
)

func CanTransitionPhase(from, to string) bool { return reviews.CanTransitionPhase(from, to) }
func TerminalPhase(phase string) bool { return reviews.TerminalPhase(phase) }
func ValidTeamRole(role string) bool { return reviews.ValidTeamRole(role) }
func ValidFindingKind(kind string) bool { return reviews.ValidFindingKind(kind) }
func ValidSeverity(severity string) bool { return reviews.ValidSeverity(severity) }

func SeverityAllowed(kind, severity string) bool {
	return reviews.SeverityAllowed(kind, severity)
}

func CanTransitionAction(from, to string) bool { return reviews.CanTransitionAction(from, to) }

type Notification = notify.Notification

const (
	NotifyOrgActivated        = notify.KindOrgActivated
	NotifyOrgStatusChanged    = notify.KindOrgStatusChanged
	NotifyMemberInvited       = notify.KindMemberInvited
	NotifyReviewScheduled     = notify.KindReviewScheduled
	NotifyReviewPhase         = notify.KindReviewPhase
	NotifyTeamInvitation      = notify.KindTeamInvitation
	NotifyInvitationResponse  = notify.KindInvitationResponse
	NotifyFindingRecorded     = notify.KindFindingRecorded
	NotifyActionProposed      = notify.KindActionProposed
	NotifyActionStatus        = notify.KindActionStatus
	NotifyActionDueSoon       = notify.KindActionDueSoon
	NotifyActionOverdue       = notify.KindActionOverdue
	NotifyActionVerify        = notify.KindActionVerify
	NotifyAssessmentSubmitted = notify.KindAssessmentSubmitted
	NotifyAssessmentReopen    = notify.KindAssessmentReopen
	NotifyReportReady         = notify.KindReportReady

	EmailNone   = notify.EmailNone
	EmailQueued = notify.EmailQueued
	EmailSent   = notify.EmailSent
	EmailFailed = notify.EmailFailed
)

type JobRun = jobs.JobRun
type JobRunEvent = jobs.JobRunEvent

const (
	JobKindReportGenerate  = jobs.KindReportGenerate
	JobKindNotifyEmail     = jobs.KindNotifyEmail
	JobKindCapOverdueSweep = jobs.KindCapOverdueSweep
	JobKindStatsRebuild    = jobs.KindStatsRebuild

	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCanceled  = jobs.StatusCanceled

	JobEventCreated   = jobs.JobEventCreated
	JobEventStarted   = jobs.JobEventStarted
	JobEventFailed    = jobs.JobEventFailed
	JobEventSucceeded = jobs.JobEventSucceeded
	JobEventCanceled  = jobs.JobEventCanceled

	JobDefaultMaxAttempts = jobs.DefaultMaxAttempts
)

type JobEventKind = jobs.JobEventKind

type ReportRun = reports.ReportRun

const (
	ReportRunQueued    = reports.RunQueued
	ReportRunRunning   = reports.RunRunning
	ReportRunSucceeded = reports.RunSucceeded
	ReportRunFailed    = reports.RunFailed
)

type SyncOperation = syncops.SyncOperation

const (
	SyncOpAnswerUpsert  = syncops.OpAnswerUpsert
	SyncOpFindingCreate = syncops.OpFindingCreate
	SyncOpFindingUpdate = syncops.OpFindingUpdate
	SyncOpNoteAttach    = syncops.OpNoteAttach

	SyncApplied   = syncops.OutcomeApplied
	SyncConflict  = syncops.OutcomeConflict
	SyncRejected  = syncops.OutcomeRejected
	SyncDuplicate = syncops.OutcomeDuplicate
)

func ValidSyncOpKind(kind string) bool { return syncops.ValidOpKind(kind) }

// ActionDueSoonWindow is how far ahead the overdue sweep warns about coming
// due dates.
const ActionDueSoonWindow = 7 * 24 * time.Hour
