package jobs

import (
	"fmt"
	"time"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/platform/sendgrid"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// NotifyEmailHandler delivers the email copy of one notification. The row
// carries the already-rendered title and body in the recipient's locale, so
// delivery is a straight send plus a status flip. A nil mail client (no
// SENDGRID_API_KEY in dev) downgrades every queued email to none.
type NotifyEmailHandler struct {
	log           *logger.Logger
	notifications repos.NotificationRepo
	users         repos.UserRepo
	mail          sendgrid.Client
}

func NewNotifyEmailHandler(
	baseLog *logger.Logger,
	notifications repos.NotificationRepo,
	users repos.UserRepo,
	mail sendgrid.Client,
) *NotifyEmailHandler {
	return &NotifyEmailHandler{
		log:           baseLog.With("handler", types.JobKindNotifyEmail),
		notifications: notifications,
		users:         users,
		mail:          mail,
	}
}

func (h *NotifyEmailHandler) Kind() string { return types.JobKindNotifyEmail }

func (h *NotifyEmailHandler) Run(jc *Context) error {
	notificationID, ok := jc.PayloadUUID("notification_id")
	if !ok {
		jc.Fail("payload", fmt.Errorf("missing notification_id"))
		return nil
	}
	n, err := h.notifications.GetByID(jc.Ctx, nil, notificationID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if n == nil {
		jc.Fail("load", fmt.Errorf("notification %s not found", notificationID))
		return nil
	}
	if n.EmailStatus != types.EmailQueued {
		jc.Succeed("skipped", map[string]any{"email_status": n.EmailStatus})
		return nil
	}

	user, err := h.users.GetByID(jc.Ctx, nil, n.UserID)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if user == nil || !user.EmailNotifications {
		// Opt-out landed between enqueue and delivery.
		_ = h.notifications.UpdateFields(jc.Ctx, nil, n.ID, map[string]interface{}{
			"email_status": types.EmailNone,
		})
		jc.Succeed("skipped", map[string]any{"email_status": types.EmailNone})
		return nil
	}

	if h.mail == nil {
		_ = h.notifications.UpdateFields(jc.Ctx, nil, n.ID, map[string]interface{}{
			"email_status": types.EmailNone,
		})
		h.log.Warn("email delivery skipped, no mail client", "notification_id", n.ID)
		jc.Succeed("skipped", map[string]any{"email_status": types.EmailNone})
		return nil
	}

	jc.Progress("send", 50)
	_, err = h.mail.Send(jc.Ctx, sendgrid.SendEmailRequest{
		To:         []sendgrid.EmailAddress{{Email: user.Email, Name: user.FirstName + " " + user.LastName}},
		Subject:    n.Title,
		Text:       n.Body,
		Categories: []string{"peer-review", n.Kind},
		CustomArgs: map[string]string{"notification_id": n.ID.String()},
	})
	if err != nil {
		observability.Current().IncNotificationEmail("failed")
		// The queued status survives retries; only a spent attempt budget
		// marks the row failed.
		if jc.Job.Attempts >= jc.Job.MaxAttempts {
			_ = h.notifications.UpdateFields(jc.Ctx, nil, n.ID, map[string]interface{}{
				"email_status": types.EmailFailed,
			})
		}
		jc.Fail("send", err)
		return nil
	}

	now := time.Now()
	if err := h.notifications.UpdateFields(jc.Ctx, nil, n.ID, map[string]interface{}{
		"email_status":  types.EmailSent,
		"email_sent_at": now,
	}); err != nil {
		jc.Fail("record", err)
		return nil
	}
	observability.Current().IncNotificationEmail("sent")
	jc.Succeed("sent", map[string]any{"email_status": types.EmailSent})
	return nil
}
