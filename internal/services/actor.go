package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// requireUser resolves the authenticated user behind the request context.
func requireUser(ctx context.Context, tx *gorm.DB, users repos.UserRepo) (*types.User, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("no user on request"))
	}
	user, err := users.GetByID(ctx, tx, rd.UserID)
	if err != nil {
		return nil, apierr.Internal("user_lookup_failed", err)
	}
	if user == nil {
		return nil, apierr.Unauthorized("not_authenticated", fmt.Errorf("user %s gone", rd.UserID))
	}
	return user, nil
}

// requireCoordinator is requireUser plus the programme-coordinator gate used
// by lifecycle operations.
func requireCoordinator(ctx context.Context, tx *gorm.DB, users repos.UserRepo) (*types.User, error) {
	user, err := requireUser(ctx, tx, users)
	if err != nil {
		return nil, err
	}
	if user.ProgrammeRole != types.ProgrammeRoleCoordinator {
		return nil, apierr.Forbidden("coordinator_only", fmt.Errorf("user %s is not the programme coordinator", user.ID))
	}
	return user, nil
}

// membershipRole returns the actor's role inside the organization, "" when
// they are not a member.
func membershipRole(ctx context.Context, tx *gorm.DB, memberships repos.MembershipRepo, userID, orgID uuid.UUID) (string, error) {
	m, err := memberships.GetByUserAndOrg(ctx, tx, userID, orgID)
	if err != nil {
		return "", apierr.Internal("membership_lookup_failed", err)
	}
	if m == nil {
		return "", nil
	}
	return m.Role, nil
}

// isoDate renders dates the way they appear in references and notifications.
func isoDate(t time.Time) string { return t.Format("2006-01-02") }
