package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/graph"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/platform/neo4jdb"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

var icaoPattern = regexp.MustCompile(`^[A-Z0-9]{2,8}$`)

// ApplyInput is the public application form: the organization plus its
// initial administrator account. When a user with ContactEmail already
// exists, AdminPassword and the admin names are ignored and that account
// becomes the administrator on approval.
type ApplyInput struct {
	Name         string
	ICAOCode     string
	Country      string
	Region       string
	Language     string
	ContactEmail string

	AdminFirstName string
	AdminLastName  string
	AdminPassword  string
}

// UpdateOrgProfileInput carries partial profile edits; nil fields are left
// untouched. ICAOCode edits are only accepted while the organization is
// still in the applied state.
type UpdateOrgProfileInput struct {
	Name         *string
	ICAOCode     *string
	Country      *string
	Region       *string
	Language     *string
	ContactEmail *string
}

type InviteMemberInput struct {
	Email     string
	FirstName string
	LastName  string
	Role      string
}

type OrganizationService interface {
	Apply(ctx context.Context, input ApplyInput) (*types.Organization, error)
	Approve(ctx context.Context, orgID uuid.UUID) (*types.Organization, error)
	Reject(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error)
	Suspend(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error)
	Reinstate(ctx context.Context, orgID uuid.UUID) (*types.Organization, error)
	Withdraw(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error)
	UpdateProfile(ctx context.Context, orgID uuid.UUID, input UpdateOrgProfileInput) (*types.Organization, error)
	Get(ctx context.Context, orgID uuid.UUID) (*types.Organization, error)
	List(ctx context.Context, status string) ([]*types.Organization, error)
	InviteMember(ctx context.Context, orgID uuid.UUID, input InviteMemberInput) (*types.Membership, string, error)
}

type organizationService struct {
	db          *gorm.DB
	log         *logger.Logger
	orgs        repos.OrganizationRepo
	memberships repos.MembershipRepo
	users       repos.UserRepo
	avatars     AvatarService
	notify      NotificationService
	graphClient *neo4jdb.Client
}

func NewOrganizationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	orgs repos.OrganizationRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
	avatars AvatarService,
	notify NotificationService,
	graphClient *neo4jdb.Client,
) OrganizationService {
	return &organizationService{
		db:          db,
		log:         baseLog.With("service", "OrganizationService"),
		orgs:        orgs,
		memberships: memberships,
		users:       users,
		avatars:     avatars,
		notify:      notify,
		graphClient: graphClient,
	}
}

// Apply files a membership application. No authentication: this is the
// public onboarding form. The organization sits in the applied state until
// the programme coordinator approves or rejects it.
func (s *organizationService) Apply(ctx context.Context, input ApplyInput) (*types.Organization, error) {
	name := strings.TrimSpace(input.Name)
	icao := strings.ToUpper(strings.TrimSpace(input.ICAOCode))
	country := strings.TrimSpace(input.Country)
	email := strings.ToLower(strings.TrimSpace(input.ContactEmail))

	if name == "" || country == "" {
		return nil, apierr.BadRequest("missing_fields", fmt.Errorf("name and country are required"))
	}
	if !icaoPattern.MatchString(icao) {
		return nil, apierr.BadRequest("invalid_icao_code", fmt.Errorf("icao code %q is not valid", input.ICAOCode))
	}
	if !emailPattern.MatchString(email) {
		return nil, apierr.BadRequest("invalid_email", fmt.Errorf("contact email %q is not valid", input.ContactEmail))
	}

	exists, err := s.orgs.ICAOCodeExists(ctx, nil, icao)
	if err != nil {
		return nil, apierr.Internal("organization_lookup_failed", err)
	}
	if exists {
		return nil, apierr.Conflict("icao_code_taken", fmt.Errorf("icao code %s already registered", icao))
	}

	admin, err := s.users.GetByEmail(ctx, nil, email)
	if err != nil {
		return nil, apierr.Internal("user_lookup_failed", err)
	}
	if admin == nil {
		if len(input.AdminPassword) < 8 {
			return nil, apierr.BadRequest("weak_password", fmt.Errorf("password must be at least 8 characters"))
		}
		if strings.TrimSpace(input.AdminFirstName) == "" || strings.TrimSpace(input.AdminLastName) == "" {
			return nil, apierr.BadRequest("missing_name", fmt.Errorf("administrator name is required"))
		}
	}

	org := &types.Organization{
		ID:           uuid.New(),
		Name:         name,
		ICAOCode:     icao,
		Country:      country,
		Region:       strings.TrimSpace(input.Region),
		Language:     types.NormalizeLocale(input.Language),
		Status:       types.OrgApplied,
		ContactEmail: email,
		AppliedAt:    time.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.orgs.Create(ctx, tx, []*types.Organization{org}); err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		if admin == nil {
			hash, err := bcrypt.GenerateFromPassword([]byte(input.AdminPassword), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			user := &types.User{
				ID:                 uuid.New(),
				Email:              email,
				Password:           string(hash),
				FirstName:          strings.TrimSpace(input.AdminFirstName),
				LastName:           strings.TrimSpace(input.AdminLastName),
				Locale:             org.Language,
				EmailNotifications: true,
			}
			if s.avatars != nil {
				if err := s.avatars.GenerateAndUpload(ctx, user); err != nil {
					return fmt.Errorf("generate avatar: %w", err)
				}
			}
			if _, err := s.users.Create(ctx, tx, []*types.User{user}); err != nil {
				return fmt.Errorf("create administrator: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Internal("application_failed", err)
	}
	return org, nil
}

// Approve activates an applied organization and seats its administrator: the
// user holding the contact email gets the org_admin membership, all in one
// transaction.
func (s *organizationService) Approve(ctx context.Context, orgID uuid.UUID) (*types.Organization, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}

	var org *types.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = s.loadOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if !types.CanTransitionOrgStatus(org.Status, types.OrgActive) {
			return apierr.Conflict("invalid_status_transition", fmt.Errorf("cannot activate a %s organization", org.Status))
		}
		admin, err := s.users.GetByEmail(ctx, tx, org.ContactEmail)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if admin == nil {
			return apierr.Unprocessable("admin_user_missing", fmt.Errorf("no account for contact email %s", org.ContactEmail))
		}

		now := time.Now()
		if err := s.orgs.UpdateFields(ctx, tx, org.ID, map[string]interface{}{
			"status":            types.OrgActive,
			"status_note":       "",
			"activated_at":      now,
			"status_changed_at": now,
			"updated_at":        now,
		}); err != nil {
			return apierr.Internal("organization_update_failed", err)
		}
		org.Status = types.OrgActive
		org.StatusNote = ""
		org.ActivatedAt = &now
		org.StatusChangedAt = &now

		existing, err := s.memberships.GetByUserAndOrg(ctx, tx, admin.ID, org.ID)
		if err != nil {
			return apierr.Internal("membership_lookup_failed", err)
		}
		if existing == nil {
			m := &types.Membership{
				ID:             uuid.New(),
				UserID:         admin.ID,
				OrganizationID: org.ID,
				Role:           types.OrgRoleAdmin,
			}
			if _, err := s.memberships.Create(ctx, tx, []*types.Membership{m}); err != nil {
				return apierr.Internal("membership_create_failed", err)
			}
		}

		if _, err := s.notify.Notify(ctx, tx, NotifyInput{
			UserID:  admin.ID,
			Kind:    types.NotifyOrgActivated,
			Args:    []any{org.Name},
			Payload: map[string]any{"organization_id": org.ID.String()},
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirrorOrg(ctx, org)
	return org, nil
}

func (s *organizationService) Reject(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error) {
	return s.changeStatus(ctx, orgID, types.OrgRejected, note)
}

func (s *organizationService) Suspend(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error) {
	return s.changeStatus(ctx, orgID, types.OrgSuspended, note)
}

func (s *organizationService) Reinstate(ctx context.Context, orgID uuid.UUID) (*types.Organization, error) {
	return s.changeStatus(ctx, orgID, types.OrgActive, "")
}

func (s *organizationService) Withdraw(ctx context.Context, orgID uuid.UUID, note string) (*types.Organization, error) {
	return s.changeStatus(ctx, orgID, types.OrgWithdrawn, note)
}

// changeStatus walks the lifecycle table and tells the organization's admins
// (or, before any membership exists, the applicant) what happened.
func (s *organizationService) changeStatus(ctx context.Context, orgID uuid.UUID, to, note string) (*types.Organization, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}

	var org *types.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = s.loadOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if !types.CanTransitionOrgStatus(org.Status, to) {
			return apierr.Conflict("invalid_status_transition", fmt.Errorf("cannot move a %s organization to %s", org.Status, to))
		}
		now := time.Now()
		if err := s.orgs.UpdateFields(ctx, tx, org.ID, map[string]interface{}{
			"status":            to,
			"status_note":       strings.TrimSpace(note),
			"status_changed_at": now,
			"updated_at":        now,
		}); err != nil {
			return apierr.Internal("organization_update_failed", err)
		}
		org.Status = to
		org.StatusNote = strings.TrimSpace(note)
		org.StatusChangedAt = &now

		recipients, err := s.statusRecipients(ctx, tx, org)
		if err != nil {
			return err
		}
		return s.notify.NotifyMany(ctx, tx, recipients, NotifyInput{
			Kind:    types.NotifyOrgStatusChanged,
			Args:    []any{org.Name, i18n.Key("label.org_status." + to)},
			Payload: map[string]any{"organization_id": org.ID.String(), "status": to},
		})
	})
	if err != nil {
		return nil, err
	}
	s.mirrorOrg(ctx, org)
	return org, nil
}

// statusRecipients picks who hears about a lifecycle change: the org admins,
// or the applicant account while no membership exists yet.
func (s *organizationService) statusRecipients(ctx context.Context, tx *gorm.DB, org *types.Organization) ([]uuid.UUID, error) {
	adminIDs, err := s.memberships.ListUserIDsByOrgRoles(ctx, tx, org.ID, []string{types.OrgRoleAdmin})
	if err != nil {
		return nil, apierr.Internal("membership_lookup_failed", err)
	}
	if len(adminIDs) > 0 {
		return adminIDs, nil
	}
	applicant, err := s.users.GetByEmail(ctx, tx, org.ContactEmail)
	if err != nil {
		return nil, apierr.Internal("user_lookup_failed", err)
	}
	if applicant == nil {
		return nil, nil
	}
	return []uuid.UUID{applicant.ID}, nil
}

// UpdateProfile edits organization master data. Org admins edit their own
// organization; the coordinator can edit any. The ICAO code freezes once the
// organization has been activated.
func (s *organizationService) UpdateProfile(ctx context.Context, orgID uuid.UUID, input UpdateOrgProfileInput) (*types.Organization, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}

	var org *types.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err = s.loadOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if actor.ProgrammeRole != types.ProgrammeRoleCoordinator {
			role, err := membershipRole(ctx, tx, s.memberships, actor.ID, org.ID)
			if err != nil {
				return err
			}
			if role != types.OrgRoleAdmin {
				return apierr.Forbidden("org_admin_only", fmt.Errorf("user %s is not an administrator of %s", actor.ID, org.ID))
			}
			if !org.CanAuthor() {
				return apierr.Conflict("org_not_active", fmt.Errorf("organization %s is %s", org.ID, org.Status))
			}
		}

		updates := map[string]interface{}{}
		if input.Name != nil {
			v := strings.TrimSpace(*input.Name)
			if v == "" {
				return apierr.BadRequest("missing_fields", fmt.Errorf("name cannot be empty"))
			}
			updates["name"] = v
			org.Name = v
		}
		if input.ICAOCode != nil {
			v := strings.ToUpper(strings.TrimSpace(*input.ICAOCode))
			if v != org.ICAOCode {
				if org.ActivatedAt != nil {
					return apierr.Conflict("icao_code_frozen", fmt.Errorf("icao code is immutable after activation"))
				}
				if !icaoPattern.MatchString(v) {
					return apierr.BadRequest("invalid_icao_code", fmt.Errorf("icao code %q is not valid", *input.ICAOCode))
				}
				taken, err := s.orgs.ICAOCodeExists(ctx, tx, v)
				if err != nil {
					return apierr.Internal("organization_lookup_failed", err)
				}
				if taken {
					return apierr.Conflict("icao_code_taken", fmt.Errorf("icao code %s already registered", v))
				}
				updates["icao_code"] = v
				org.ICAOCode = v
			}
		}
		if input.Country != nil {
			v := strings.TrimSpace(*input.Country)
			if v == "" {
				return apierr.BadRequest("missing_fields", fmt.Errorf("country cannot be empty"))
			}
			updates["country"] = v
			org.Country = v
		}
		if input.Region != nil {
			updates["region"] = strings.TrimSpace(*input.Region)
			org.Region = strings.TrimSpace(*input.Region)
		}
		if input.Language != nil {
			v := types.NormalizeLocale(*input.Language)
			updates["language"] = v
			org.Language = v
		}
		if input.ContactEmail != nil {
			v := strings.ToLower(strings.TrimSpace(*input.ContactEmail))
			if !emailPattern.MatchString(v) {
				return apierr.BadRequest("invalid_email", fmt.Errorf("contact email %q is not valid", *input.ContactEmail))
			}
			updates["contact_email"] = v
			org.ContactEmail = v
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.orgs.UpdateFields(ctx, tx, org.ID, updates); err != nil {
			return apierr.Internal("organization_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirrorOrg(ctx, org)
	return org, nil
}

func (s *organizationService) Get(ctx context.Context, orgID uuid.UUID) (*types.Organization, error) {
	return s.loadOrg(ctx, nil, orgID)
}

func (s *organizationService) List(ctx context.Context, status string) ([]*types.Organization, error) {
	rows, err := s.orgs.List(ctx, nil, strings.TrimSpace(status))
	if err != nil {
		return nil, apierr.Internal("organization_list_failed", err)
	}
	return rows, nil
}

// InviteMember creates (or reuses) the account for the invited email and
// binds it to the organization. For fresh accounts the generated temporary
// password is returned to the inviting administrator to hand over; the
// invitee is told to change it on first login.
func (s *organizationService) InviteMember(ctx context.Context, orgID uuid.UUID, input InviteMemberInput) (*types.Membership, string, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, "", err
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !emailPattern.MatchString(email) {
		return nil, "", apierr.BadRequest("invalid_email", fmt.Errorf("email %q is not valid", input.Email))
	}
	if !types.ValidOrgRole(input.Role) {
		return nil, "", apierr.BadRequest("invalid_role", fmt.Errorf("role %q is not valid", input.Role))
	}

	var membership *types.Membership
	tempPassword := ""
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.loadOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if actor.ProgrammeRole != types.ProgrammeRoleCoordinator {
			role, err := membershipRole(ctx, tx, s.memberships, actor.ID, org.ID)
			if err != nil {
				return err
			}
			if role != types.OrgRoleAdmin {
				return apierr.Forbidden("org_admin_only", fmt.Errorf("user %s is not an administrator of %s", actor.ID, org.ID))
			}
		}
		if !org.CanAuthor() {
			return apierr.Conflict("org_not_active", fmt.Errorf("organization %s is %s", org.ID, org.Status))
		}

		user, err := s.users.GetByEmail(ctx, tx, email)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if user == nil {
			if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
				return apierr.BadRequest("missing_name", fmt.Errorf("first and last name are required for a new account"))
			}
			tempPassword = uuid.NewString()
			hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
			if err != nil {
				return apierr.Internal("password_hash_failed", err)
			}
			user = &types.User{
				ID:                 uuid.New(),
				Email:              email,
				Password:           string(hash),
				FirstName:          strings.TrimSpace(input.FirstName),
				LastName:           strings.TrimSpace(input.LastName),
				Locale:             org.Language,
				EmailNotifications: true,
			}
			if s.avatars != nil {
				if err := s.avatars.GenerateAndUpload(ctx, user); err != nil {
					return apierr.Internal("avatar_generate_failed", err)
				}
			}
			if _, err := s.users.Create(ctx, tx, []*types.User{user}); err != nil {
				return apierr.Internal("user_create_failed", err)
			}
		}

		existing, err := s.memberships.GetByUserAndOrg(ctx, tx, user.ID, org.ID)
		if err != nil {
			return apierr.Internal("membership_lookup_failed", err)
		}
		if existing != nil {
			return apierr.Conflict("already_member", fmt.Errorf("user %s already belongs to %s", user.ID, org.ID))
		}
		membership = &types.Membership{
			ID:             uuid.New(),
			UserID:         user.ID,
			OrganizationID: org.ID,
			Role:           input.Role,
			InvitedBy:      &actor.ID,
		}
		if _, err := s.memberships.Create(ctx, tx, []*types.Membership{membership}); err != nil {
			return apierr.Internal("membership_create_failed", err)
		}

		if _, err := s.notify.Notify(ctx, tx, NotifyInput{
			UserID:    user.ID,
			Kind:      types.NotifyMemberInvited,
			TitleArgs: []any{org.Name},
			Args:      []any{org.Name, i18n.Key("label.org_role." + input.Role)},
			Payload:   map[string]any{"organization_id": org.ID.String(), "membership_id": membership.ID.String()},
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return membership, tempPassword, nil
}

func (s *organizationService) loadOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) (*types.Organization, error) {
	org, err := s.orgs.GetByID(ctx, tx, orgID)
	if err != nil {
		return nil, apierr.Internal("organization_lookup_failed", err)
	}
	if org == nil {
		return nil, apierr.NotFound("organization_not_found", fmt.Errorf("organization %s not found", orgID))
	}
	return org, nil
}

// mirrorOrg pushes the organization node into the review network graph.
// Best-effort: the graph is a projection, postgres stays the truth.
func (s *organizationService) mirrorOrg(ctx context.Context, org *types.Organization) {
	if org == nil || !graph.Enabled(s.graphClient) {
		return
	}
	if err := graph.UpsertOrganization(ctx, s.graphClient, s.log, org); err != nil {
		s.log.Warn("Graph mirror failed for organization", "organization_id", org.ID, "error", err)
	}
}
