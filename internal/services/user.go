package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// UpdateProfileInput carries partial profile edits; nil fields are left
// untouched.
type UpdateProfileInput struct {
	FirstName          *string
	LastName           *string
	Locale             *string
	EmailNotifications *bool
}

type UserService interface {
	GetMe(ctx context.Context) (*types.User, error)
	UpdateProfile(ctx context.Context, input UpdateProfileInput) (*types.User, error)
	UploadAvatar(ctx context.Context, raw []byte) (*types.User, error)
}

type userService struct {
	db      *gorm.DB
	log     *logger.Logger
	users   repos.UserRepo
	avatars AvatarService
}

func NewUserService(db *gorm.DB, baseLog *logger.Logger, users repos.UserRepo, avatars AvatarService) UserService {
	return &userService{
		db:      db,
		log:     baseLog.With("service", "UserService"),
		users:   users,
		avatars: avatars,
	}
}

func (us *userService) GetMe(ctx context.Context) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no user on request"))
	}
	user, err := us.users.GetByID(ctx, nil, rd.UserID)
	if err != nil {
		return nil, apierr.Internal("user_lookup_failed", err)
	}
	if user == nil {
		return nil, apierr.NotFound("user_not_found", fmt.Errorf("user %s not found", rd.UserID))
	}
	return user, nil
}

// UpdateProfile applies the given fields. A name change regenerates the
// initials avatar in the same transaction so the picture never lags the name.
func (us *userService) UpdateProfile(ctx context.Context, input UpdateProfileInput) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no user on request"))
	}

	updates := map[string]interface{}{}
	nameChanged := false
	if input.FirstName != nil {
		v := strings.TrimSpace(*input.FirstName)
		if v == "" {
			return nil, apierr.BadRequest("missing_name", fmt.Errorf("first_name cannot be empty"))
		}
		updates["first_name"] = v
		nameChanged = true
	}
	if input.LastName != nil {
		v := strings.TrimSpace(*input.LastName)
		if v == "" {
			return nil, apierr.BadRequest("missing_name", fmt.Errorf("last_name cannot be empty"))
		}
		updates["last_name"] = v
		nameChanged = true
	}
	if input.Locale != nil {
		updates["locale"] = types.NormalizeLocale(*input.Locale)
	}
	if input.EmailNotifications != nil {
		updates["email_notifications"] = *input.EmailNotifications
	}
	if len(updates) == 0 {
		return us.GetMe(ctx)
	}

	var out *types.User
	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := us.users.GetByID(ctx, tx, rd.UserID)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if user == nil {
			return apierr.NotFound("user_not_found", fmt.Errorf("user %s not found", rd.UserID))
		}
		if err := us.users.UpdateFields(ctx, tx, rd.UserID, updates); err != nil {
			return apierr.Internal("user_update_failed", err)
		}
		if v, ok := updates["first_name"].(string); ok {
			user.FirstName = v
		}
		if v, ok := updates["last_name"].(string); ok {
			user.LastName = v
		}
		if v, ok := updates["locale"].(string); ok {
			user.Locale = v
		}
		if v, ok := updates["email_notifications"].(bool); ok {
			user.EmailNotifications = v
		}

		if nameChanged && us.avatars != nil && user.AvatarBucketKey != "" {
			// Only regenerate avatars we generated; an uploaded photo
			// survives a rename.
			if strings.HasPrefix(user.AvatarBucketKey, "user_avatar/") {
				if err := us.avatars.GenerateAndUpload(ctx, user); err != nil {
					return apierr.Internal("avatar_update_failed", err)
				}
				if err := us.users.UpdateFields(ctx, tx, rd.UserID, map[string]interface{}{
					"avatar_bucket_key": user.AvatarBucketKey,
					"avatar_url":        user.AvatarURL,
				}); err != nil {
					return apierr.Internal("user_update_failed", err)
				}
			}
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (us *userService) UploadAvatar(ctx context.Context, raw []byte) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no user on request"))
	}
	if len(raw) == 0 {
		return nil, apierr.BadRequest("empty_upload", fmt.Errorf("no image bytes"))
	}

	var out *types.User
	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := us.users.GetByID(ctx, tx, rd.UserID)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if user == nil {
			return apierr.NotFound("user_not_found", fmt.Errorf("user %s not found", rd.UserID))
		}
		if err := us.avatars.UploadCustom(ctx, user, raw); err != nil {
			return apierr.Unprocessable("avatar_upload_failed", err)
		}
		if err := us.users.UpdateFields(ctx, tx, rd.UserID, map[string]interface{}{
			"avatar_bucket_key": user.AvatarBucketKey,
			"avatar_url":        user.AvatarURL,
		}); err != nil {
			return apierr.Internal("user_update_failed", err)
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
