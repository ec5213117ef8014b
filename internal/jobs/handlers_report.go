package jobs

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/gcp"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/reports"
	"github.com/skyassure/peerreview-backend/internal/repos"
	"github.com/skyassure/peerreview-backend/internal/services"
)

// ReportGenerateHandler renders the review report PDF for one report run:
// load everything the renderer needs, render, upload, promote the run to
// current and tell the requester plus the host coordinators.
type ReportGenerateHandler struct {
	log            *logger.Logger
	runs           repos.ReportRunRepo
	reviews        repos.ReviewRepo
	findings       repos.FindingRepo
	actions        repos.ActionRepo
	orgs           repos.OrganizationRepo
	users          repos.UserRepo
	questionnaires repos.QuestionnaireRepo
	memberships    repos.MembershipRepo
	bucket         gcp.BucketService
	notify         services.NotificationService
}

func NewReportGenerateHandler(
	baseLog *logger.Logger,
	runs repos.ReportRunRepo,
	reviews repos.ReviewRepo,
	findings repos.FindingRepo,
	actions repos.ActionRepo,
	orgs repos.OrganizationRepo,
	users repos.UserRepo,
	questionnaires repos.QuestionnaireRepo,
	memberships repos.MembershipRepo,
	bucket gcp.BucketService,
	notify services.NotificationService,
) *ReportGenerateHandler {
	return &ReportGenerateHandler{
		log:            baseLog.With("handler", types.JobKindReportGenerate),
		runs:           runs,
		reviews:        reviews,
		findings:       findings,
		actions:        actions,
		orgs:           orgs,
		users:          users,
		questionnaires: questionnaires,
		memberships:    memberships,
		bucket:         bucket,
		notify:         notify,
	}
}

func (h *ReportGenerateHandler) Kind() string { return types.JobKindReportGenerate }

func (h *ReportGenerateHandler) Run(jc *Context) error {
	runID, ok := jc.PayloadUUID("report_run_id")
	if !ok {
		jc.Fail("payload", fmt.Errorf("missing report_run_id"))
		return nil
	}
	run, err := h.runs.GetByID(jc.Ctx, nil, runID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if run == nil {
		jc.Fail("load", fmt.Errorf("report run %s not found", runID))
		return nil
	}

	if err := h.runs.UpdateFields(jc.Ctx, nil, run.ID, map[string]interface{}{
		"status": types.ReportRunRunning,
		"error":  "",
	}); err != nil {
		jc.Fail("load", err)
		return nil
	}
	jc.Progress("load", 10)

	data, err := h.loadData(jc, run)
	if err != nil {
		h.failRun(jc, run.ID, "load", err)
		return nil
	}
	jc.Progress("render", 40)

	pdf, pages, err := reports.Render(data)
	if err != nil {
		h.failRun(jc, run.ID, "render", err)
		return nil
	}
	jc.Progress("upload", 75)

	objectKey := fmt.Sprintf("%s/%s_%s_%s.pdf", data.Review.ID, data.Review.Reference, run.Language, run.ID)
	if err := h.bucket.UploadFile(jc.Ctx, gcp.BucketCategoryReport, objectKey, bytes.NewReader(pdf)); err != nil {
		h.failRun(jc, run.ID, "upload", err)
		return nil
	}
	jc.Progress("publish", 90)

	now := time.Now()
	err = jc.DB.WithContext(jc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.runs.UpdateFields(jc.Ctx, tx, run.ID, map[string]interface{}{
			"status":       types.ReportRunSucceeded,
			"object_key":   objectKey,
			"size_bytes":   int64(len(pdf)),
			"page_count":   pages,
			"generated_at": now,
			"error":        "",
		}); err != nil {
			return err
		}
		if err := h.runs.PromoteCurrent(jc.Ctx, tx, run.ID, run.ReviewID, run.Language); err != nil {
			return err
		}
		return h.notifyReady(jc, tx, run, data)
	})
	if err != nil {
		h.failRun(jc, run.ID, "publish", err)
		return nil
	}

	observability.Current().ObserveReport(pages, len(pdf))
	h.log.Info("report generated",
		"run_id", run.ID, "review_id", run.ReviewID, "language", run.Language,
		"pages", pages, "bytes", len(pdf))
	jc.Succeed("done", map[string]any{
		"object_key": objectKey,
		"page_count": pages,
		"size_bytes": len(pdf),
	})
	return nil
}

// loadData resolves the full render input up front so the renderer stays
// database-free.
func (h *ReportGenerateHandler) loadData(jc *Context, run *types.ReportRun) (*reports.Data, error) {
	review, err := h.reviews.GetByID(jc.Ctx, nil, run.ReviewID)
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, fmt.Errorf("review %s not found", run.ReviewID)
	}
	hostOrg, err := h.orgs.GetByID(jc.Ctx, nil, review.HostOrganizationID)
	if err != nil {
		return nil, err
	}
	if hostOrg == nil {
		return nil, fmt.Errorf("host organization %s not found", review.HostOrganizationID)
	}

	domains, err := h.questionnaires.ListDomains(jc.Ctx, nil, review.QuestionnaireID)
	if err != nil {
		return nil, err
	}
	domainNames := make(map[string]string, len(domains))
	for _, d := range domains {
		name, _ := d.Name.Resolve(run.Language)
		domainNames[d.Code] = name
	}

	members, err := h.reviews.ListTeamMembers(jc.Ctx, nil, review.ID)
	if err != nil {
		return nil, err
	}
	var userIDs, orgIDs []uuid.UUID
	for _, m := range members {
		if !m.Seated() {
			continue
		}
		userIDs = append(userIDs, m.UserID)
		orgIDs = append(orgIDs, m.OrganizationID)
	}

	findingRows, err := h.findings.ListByReview(jc.Ctx, nil, review.ID)
	if err != nil {
		return nil, err
	}
	findingIDs := make([]uuid.UUID, 0, len(findingRows))
	for _, f := range findingRows {
		findingIDs = append(findingIDs, f.ID)
	}
	actionRows, err := h.actions.ListByFindingIDs(jc.Ctx, nil, findingIDs)
	if err != nil {
		return nil, err
	}
	actionsByFinding := make(map[uuid.UUID][]*types.CorrectiveAction, len(findingRows))
	for _, a := range actionRows {
		actionsByFinding[a.FindingID] = append(actionsByFinding[a.FindingID], a)
		userIDs = append(userIDs, a.OwnerID)
	}

	userRows, err := h.users.GetByIDs(jc.Ctx, nil, userIDs)
	if err != nil {
		return nil, err
	}
	usersByID := make(map[uuid.UUID]*types.User, len(userRows))
	for _, u := range userRows {
		usersByID[u.ID] = u
	}
	orgRows, err := h.orgs.GetByIDs(jc.Ctx, nil, orgIDs)
	if err != nil {
		return nil, err
	}
	orgsByID := make(map[uuid.UUID]*types.Organization, len(orgRows))
	for _, o := range orgRows {
		orgsByID[o.ID] = o
	}

	team := make([]reports.TeamEntry, 0, len(members))
	for _, m := range members {
		if !m.Seated() {
			continue
		}
		team = append(team, reports.TeamEntry{
			Member: m,
			User:   usersByID[m.UserID],
			Org:    orgsByID[m.OrganizationID],
		})
	}

	blocks := make([]reports.FindingBlock, 0, len(findingRows))
	for _, f := range findingRows {
		acts := actionsByFinding[f.ID]
		owners := make(map[string]string, len(acts))
		for _, a := range acts {
			if u := usersByID[a.OwnerID]; u != nil {
				owners[a.OwnerID.String()] = u.FirstName + " " + u.LastName
			}
		}
		blocks = append(blocks, reports.FindingBlock{Finding: f, Actions: acts, OwnerNames: owners})
	}

	return &reports.Data{
		Review:      review,
		HostOrg:     hostOrg,
		Team:        team,
		Findings:    blocks,
		DomainNames: domainNames,
		Language:    run.Language,
		GeneratedAt: time.Now(),
	}, nil
}

func (h *ReportGenerateHandler) notifyReady(jc *Context, tx *gorm.DB, run *types.ReportRun, data *reports.Data) error {
	recipients := []uuid.UUID{run.RequestedBy}
	hostIDs, err := h.memberships.ListUserIDsByOrgRoles(jc.Ctx, tx, data.HostOrg.ID,
		[]string{types.OrgRoleAdmin, types.OrgRoleSafetyManager})
	if err != nil {
		return err
	}
	recipients = append(recipients, hostIDs...)

	ref := data.Review.Reference
	if ref == "" {
		ref = data.Review.ID.String()
	}
	return h.notify.NotifyMany(jc.Ctx, tx, recipients, services.NotifyInput{
		Kind: types.NotifyReportReady,
		Args: []any{i18n.Key("label.language." + run.Language), ref},
		Payload: map[string]any{
			"report_run_id": run.ID.String(),
			"review_id":     run.ReviewID.String(),
			"language":      run.Language,
		},
	})
}

func (h *ReportGenerateHandler) failRun(jc *Context, runID uuid.UUID, stage string, err error) {
	if uerr := h.runs.UpdateFields(jc.Ctx, nil, runID, map[string]interface{}{
		"status": types.ReportRunFailed,
		"error":  err.Error(),
	}); uerr != nil {
		h.log.Error("report run failure not recorded", "run_id", runID, "error", uerr)
	}
	jc.Fail(stage, err)
}
