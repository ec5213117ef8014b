package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type MembershipService interface {
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*types.Membership, error)
	ListMine(ctx context.Context) ([]*types.Membership, error)
	UpdateRole(ctx context.Context, membershipID uuid.UUID, newRole string) (*types.Membership, error)
	Remove(ctx context.Context, membershipID uuid.UUID) error
}

type membershipService struct {
	db          *gorm.DB
	log         *logger.Logger
	memberships repos.MembershipRepo
	users       repos.UserRepo
}

func NewMembershipService(db *gorm.DB, baseLog *logger.Logger, memberships repos.MembershipRepo, users repos.UserRepo) MembershipService {
	return &membershipService{
		db:          db,
		log:         baseLog.With("service", "MembershipService"),
		memberships: memberships,
		users:       users,
	}
}

func (s *membershipService) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*types.Membership, error) {
	rows, err := s.memberships.ListByOrg(ctx, nil, orgID)
	if err != nil {
		return nil, apierr.Internal("membership_list_failed", err)
	}
	return rows, nil
}

func (s *membershipService) ListMine(ctx context.Context) ([]*types.Membership, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	rows, err := s.memberships.ListByUser(ctx, nil, actor.ID)
	if err != nil {
		return nil, apierr.Internal("membership_list_failed", err)
	}
	return rows, nil
}

// UpdateRole changes a member's org-scoped role. Downgrading the last
// administrator is refused so an active organization never goes unmanaged.
func (s *membershipService) UpdateRole(ctx context.Context, membershipID uuid.UUID, newRole string) (*types.Membership, error) {
	if !types.ValidOrgRole(newRole) {
		return nil, apierr.BadRequest("invalid_role", fmt.Errorf("role %q is not valid", newRole))
	}
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}

	var out *types.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.loadMembership(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		if err := s.requireOrgAdminOrCoordinator(ctx, tx, actor, m.OrganizationID); err != nil {
			return err
		}
		if m.Role == newRole {
			out = m
			return nil
		}
		if m.Role == types.OrgRoleAdmin && newRole != types.OrgRoleAdmin {
			if err := s.guardLastAdmin(ctx, tx, m); err != nil {
				return err
			}
		}
		if err := s.memberships.UpdateFields(ctx, tx, m.ID, map[string]interface{}{"role": newRole}); err != nil {
			return apierr.Internal("membership_update_failed", err)
		}
		m.Role = newRole
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a membership; the last administrator cannot be removed.
func (s *membershipService) Remove(ctx context.Context, membershipID uuid.UUID) error {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.loadMembership(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		if err := s.requireOrgAdminOrCoordinator(ctx, tx, actor, m.OrganizationID); err != nil {
			return err
		}
		if m.Role == types.OrgRoleAdmin {
			if err := s.guardLastAdmin(ctx, tx, m); err != nil {
				return err
			}
		}
		if err := s.memberships.Delete(ctx, tx, m.ID); err != nil {
			return apierr.Internal("membership_delete_failed", err)
		}
		return nil
	})
}

func (s *membershipService) loadMembership(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Membership, error) {
	m, err := s.memberships.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("membership_lookup_failed", err)
	}
	if m == nil {
		return nil, apierr.NotFound("membership_not_found", fmt.Errorf("membership %s not found", id))
	}
	return m, nil
}

func (s *membershipService) requireOrgAdminOrCoordinator(ctx context.Context, tx *gorm.DB, actor *types.User, orgID uuid.UUID) error {
	if actor.ProgrammeRole == types.ProgrammeRoleCoordinator {
		return nil
	}
	role, err := membershipRole(ctx, tx, s.memberships, actor.ID, orgID)
	if err != nil {
		return err
	}
	if role != types.OrgRoleAdmin {
		return apierr.Forbidden("org_admin_only", fmt.Errorf("user %s is not an administrator of %s", actor.ID, orgID))
	}
	return nil
}

func (s *membershipService) guardLastAdmin(ctx context.Context, tx *gorm.DB, m *types.Membership) error {
	adminIDs, err := s.memberships.ListUserIDsByOrgRoles(ctx, tx, m.OrganizationID, []string{types.OrgRoleAdmin})
	if err != nil {
		return apierr.Internal("membership_lookup_failed", err)
	}
	if len(adminIDs) <= 1 {
		return apierr.Conflict("last_admin", fmt.Errorf("organization %s needs at least one administrator", m.OrganizationID))
	}
	return nil
}
