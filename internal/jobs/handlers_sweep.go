package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
	"github.com/skyassure/peerreview-backend/internal/services"
)

// CapSweepHandler walks corrective actions whose due date is near or past
// and raises the one-shot due-soon and overdue notifications. The notified
// flags flip in the same transaction as the notification rows, so a crashed
// sweep never double-notifies; editing the due date re-arms both flags.
type CapSweepHandler struct {
	log         *logger.Logger
	actions     repos.ActionRepo
	findings    repos.FindingRepo
	reviews     repos.ReviewRepo
	memberships repos.MembershipRepo
	notify      services.NotificationService
}

func NewCapSweepHandler(
	baseLog *logger.Logger,
	actions repos.ActionRepo,
	findings repos.FindingRepo,
	reviews repos.ReviewRepo,
	memberships repos.MembershipRepo,
	notify services.NotificationService,
) *CapSweepHandler {
	return &CapSweepHandler{
		log:         baseLog.With("handler", types.JobKindCapOverdueSweep),
		actions:     actions,
		findings:    findings,
		reviews:     reviews,
		memberships: memberships,
		notify:      notify,
	}
}

func (h *CapSweepHandler) Kind() string { return types.JobKindCapOverdueSweep }

func (h *CapSweepHandler) Run(jc *Context) error {
	now := time.Now()
	var dueSoonCount, overdueCount int

	err := jc.DB.WithContext(jc.Ctx).Transaction(func(tx *gorm.DB) error {
		dueSoon, err := h.actions.ListDueSoon(jc.Ctx, tx, now, types.ActionDueSoonWindow)
		if err != nil {
			return err
		}
		jc.Progress("due_soon", 20)
		for _, act := range dueSoon {
			if err := h.notifyDueSoon(jc, tx, act); err != nil {
				return err
			}
			dueSoonCount++
		}

		overdue, err := h.actions.ListOpenOverdue(jc.Ctx, tx, now)
		if err != nil {
			return err
		}
		jc.Progress("overdue", 60)
		for _, act := range overdue {
			if err := h.notifyOverdue(jc, tx, act); err != nil {
				return err
			}
			overdueCount++
		}
		return nil
	})
	if err != nil {
		jc.Fail("sweep", err)
		return nil
	}

	if dueSoonCount > 0 || overdueCount > 0 {
		h.log.Info("cap sweep done", "due_soon", dueSoonCount, "overdue", overdueCount)
	}
	jc.Succeed("done", map[string]any{"due_soon": dueSoonCount, "overdue": overdueCount})
	return nil
}

// notifyDueSoon warns the owner only.
func (h *CapSweepHandler) notifyDueSoon(jc *Context, tx *gorm.DB, act *types.CorrectiveAction) error {
	finding, err := h.findings.GetByID(jc.Ctx, tx, act.FindingID)
	if err != nil {
		return err
	}
	if finding == nil {
		return h.disarm(jc, tx, act.ID, "due_soon_notified")
	}
	if _, err := h.notify.Notify(jc.Ctx, tx, services.NotifyInput{
		UserID: act.OwnerID,
		Kind:   types.NotifyActionDueSoon,
		Args:   []any{finding.Reference, act.DueOn.Format("2006-01-02")},
		Payload: map[string]any{
			"action_id":  act.ID.String(),
			"finding_id": finding.ID.String(),
			"review_id":  finding.ReviewID.String(),
		},
	}); err != nil {
		return err
	}
	return h.disarm(jc, tx, act.ID, "due_soon_notified")
}

// notifyOverdue escalates past the owner to the host organization's admins
// and safety managers.
func (h *CapSweepHandler) notifyOverdue(jc *Context, tx *gorm.DB, act *types.CorrectiveAction) error {
	finding, err := h.findings.GetByID(jc.Ctx, tx, act.FindingID)
	if err != nil {
		return err
	}
	if finding == nil {
		return h.disarm(jc, tx, act.ID, "overdue_notified")
	}
	review, err := h.reviews.GetByID(jc.Ctx, tx, finding.ReviewID)
	if err != nil {
		return err
	}

	recipients := []uuid.UUID{act.OwnerID}
	if review != nil {
		hostIDs, err := h.memberships.ListUserIDsByOrgRoles(jc.Ctx, tx, review.HostOrganizationID,
			[]string{types.OrgRoleAdmin, types.OrgRoleSafetyManager})
		if err != nil {
			return err
		}
		recipients = append(recipients, hostIDs...)
	}

	payload := map[string]any{
		"action_id":  act.ID.String(),
		"finding_id": finding.ID.String(),
		"review_id":  finding.ReviewID.String(),
	}
	if err := h.notify.NotifyMany(jc.Ctx, tx, recipients, services.NotifyInput{
		Kind:    types.NotifyActionOverdue,
		Args:    []any{finding.Reference, act.DueOn.Format("2006-01-02")},
		Payload: payload,
	}); err != nil {
		return err
	}
	return h.disarm(jc, tx, act.ID, "overdue_notified")
}

func (h *CapSweepHandler) disarm(jc *Context, tx *gorm.DB, actionID uuid.UUID, column string) error {
	return h.actions.UpdateFields(jc.Ctx, tx, actionID, map[string]interface{}{column: true})
}
