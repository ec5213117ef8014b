package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
	"github.com/skyassure/peerreview-backend/internal/sse"
)

// NotificationPublisher pushes rendered notifications to connected clients.
// The redis bus satisfies it; a nil publisher silently drops the push while
// the rows still land in the inbox.
type NotificationPublisher interface {
	Publish(ctx context.Context, msg sse.Message) error
}

// NotifyInput describes one in-app notification. Args fill the printf verbs
// of the body template for the kind, TitleArgs those of the title (most
// titles have none); Payload rides along untranslated so the client can
// deep-link to the entity.
type NotifyInput struct {
	UserID    uuid.UUID
	Kind      string
	TitleArgs []any
	Args      []any
	Payload   map[string]any
}

type NotificationService interface {
	Notify(ctx context.Context, tx *gorm.DB, input NotifyInput) (*types.Notification, error)
	NotifyMany(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID, input NotifyInput) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*types.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type notificationService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.NotificationRepo
	users repos.UserRepo
	jobs  JobService
	pub   NotificationPublisher
}

func NewNotificationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.NotificationRepo,
	users repos.UserRepo,
	jobs JobService,
	pub NotificationPublisher,
) NotificationService {
	return &notificationService{
		db:    db,
		log:   baseLog.With("service", "NotificationService"),
		repo:  repo,
		users: users,
		jobs:  jobs,
		pub:   pub,
	}
}

// Notify renders the message catalog pair for the kind in the recipient's
// current locale, stores the row, queues the email copy when the recipient
// opted in, and pushes the rendered row over SSE. Title and body are frozen
// at creation; a later locale switch does not re-render old rows.
func (s *notificationService) Notify(ctx context.Context, tx *gorm.DB, input NotifyInput) (*types.Notification, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user id")
	}
	if strings.TrimSpace(input.Kind) == "" {
		return nil, fmt.Errorf("missing notification kind")
	}
	user, err := s.users.GetByID(ctx, tx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("recipient %s not found", input.UserID)
	}

	locale := types.NormalizeLocale(user.Locale)
	title := i18n.T(locale, "notify."+input.Kind+".title", input.TitleArgs...)
	body := i18n.T(locale, "notify."+input.Kind+".body", input.Args...)

	var payloadJSON datatypes.JSON
	if input.Payload != nil {
		b, err := json.Marshal(input.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal notification payload: %w", err)
		}
		payloadJSON = datatypes.JSON(b)
	}

	emailStatus := types.EmailNone
	if user.EmailNotifications {
		emailStatus = types.EmailQueued
	}
	n := &types.Notification{
		ID:          uuid.New(),
		UserID:      input.UserID,
		Kind:        input.Kind,
		Locale:      locale,
		Title:       title,
		Body:        body,
		Payload:     payloadJSON,
		EmailStatus: emailStatus,
	}
	if _, err := s.repo.Create(ctx, tx, []*types.Notification{n}); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if user.EmailNotifications {
		entityID := n.ID
		if _, _, err := s.jobs.Enqueue(ctx, tx, EnqueueJobInput{
			Kind:       types.JobKindNotifyEmail,
			EntityType: "notification",
			EntityID:   &entityID,
			Payload:    map[string]any{"notification_id": n.ID.String()},
			DedupeKey:  "notify_email:" + n.ID.String(),
		}); err != nil {
			return nil, fmt.Errorf("enqueue notification email: %w", err)
		}
	}

	s.push(ctx, n)
	return n, nil
}

// NotifyMany fans one event out to several recipients, each row rendered in
// its own recipient's locale. input.UserID is ignored; duplicate ids collapse
// to one row.
func (s *notificationService) NotifyMany(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID, input NotifyInput) error {
	seen := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		input.UserID = id
		if _, err := s.Notify(ctx, tx, input); err != nil {
			return err
		}
	}
	return nil
}

func (s *notificationService) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*types.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.repo.ListByUser(ctx, nil, userID, unreadOnly, limit)
	if err != nil {
		return nil, apierr.Internal("notifications_list_failed", err)
	}
	return rows, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.repo.CountUnread(ctx, nil, userID)
	if err != nil {
		return 0, apierr.Internal("notifications_count_failed", err)
	}
	return count, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	ok, err := s.repo.MarkRead(ctx, nil, notificationID, userID)
	if err != nil {
		return apierr.Internal("notification_mark_read_failed", err)
	}
	if !ok {
		return apierr.NotFound("notification_not_found", fmt.Errorf("notification %s not found or already read", notificationID))
	}
	s.pushUnreadCount(ctx, userID)
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, nil, userID)
	if err != nil {
		return 0, apierr.Internal("notification_mark_read_failed", err)
	}
	if n > 0 {
		s.pushUnreadCount(ctx, userID)
	}
	return n, nil
}

// push sends the rendered notification and the bumped unread count to the
// recipient's channel. Best-effort: a dead bus never fails the write path.
func (s *notificationService) push(ctx context.Context, n *types.Notification) {
	if s.pub == nil || n == nil {
		return
	}
	channel := sse.UserChannel(n.UserID)
	if err := s.pub.Publish(ctx, sse.Message{Channel: channel, Event: sse.EventNotification, Data: n}); err != nil {
		s.log.Warn("Notification push failed", "user_id", n.UserID, "kind", n.Kind, "error", err)
		return
	}
	s.pushUnreadCount(ctx, n.UserID)
}

func (s *notificationService) pushUnreadCount(ctx context.Context, userID uuid.UUID) {
	if s.pub == nil {
		return
	}
	count, err := s.repo.CountUnread(ctx, nil, userID)
	if err != nil {
		s.log.Warn("Unread count push skipped", "user_id", userID, "error", err)
		return
	}
	msg := sse.Message{Channel: sse.UserChannel(userID), Event: sse.EventUnreadCount, Data: map[string]int64{"unread": count}}
	if err := s.pub.Publish(ctx, msg); err != nil {
		s.log.Warn("Unread count push failed", "user_id", userID, "error", err)
	}
}
