package rbac

import "testing"

func TestAllowed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		role     string
		resource Resource
		action   Action
		want     bool
	}{
		{"coordinator approves organizations", "programme_coordinator", ResourceOrganization, ActionApprove, true},
		{"coordinator publishes questionnaires", "programme_coordinator", ResourceQuestionnaire, ActionPublish, true},
		{"coordinator schedules reviews", "programme_coordinator", ResourceReview, ActionSchedule, true},
		{"coordinator reopens assessments", "programme_coordinator", ResourceAssessment, ActionTransition, true},
		{"coordinator cannot author assessments", "programme_coordinator", ResourceAssessment, ActionUpdate, false},
		{"coordinator cannot push sync batches", "programme_coordinator", ResourceSync, ActionCreate, false},

		{"auditor reads findings", "auditor", ResourceFinding, ActionRead, true},
		{"auditor exports statistics", "auditor", ResourceStatistics, ActionExport, true},
		{"auditor cannot update anything", "auditor", ResourceReview, ActionUpdate, false},
		{"auditor cannot approve organizations", "auditor", ResourceOrganization, ActionApprove, false},

		{"org admin invites members", "org_admin", ResourceMembership, ActionCreate, true},
		{"org admin submits assessments", "org_admin", ResourceAssessment, ActionSubmit, true},
		{"org admin requests reviews", "org_admin", ResourceReview, ActionCreate, true},
		{"org admin cannot schedule reviews", "org_admin", ResourceReview, ActionSchedule, false},
		{"org admin cannot publish questionnaires", "org_admin", ResourceQuestionnaire, ActionPublish, false},

		{"safety manager answers assessments", "safety_manager", ResourceAssessment, ActionUpdate, true},
		{"safety manager moves action plans", "safety_manager", ResourceActionPlan, ActionTransition, true},
		{"safety manager cannot manage members", "safety_manager", ResourceMembership, ActionCreate, false},

		{"reviewer records findings", "reviewer", ResourceFinding, ActionCreate, true},
		{"reviewer pushes sync batches", "reviewer", ResourceSync, ActionCreate, true},
		{"reviewer responds to team invitations", "reviewer", ResourceReviewTeam, ActionUpdate, true},
		{"reviewer cannot author action plans", "reviewer", ResourceActionPlan, ActionCreate, false},
		{"reviewer cannot submit assessments", "reviewer", ResourceAssessment, ActionSubmit, false},

		{"member reads reports", "member", ResourceReport, ActionRead, true},
		{"member cannot record findings", "member", ResourceFinding, ActionCreate, false},

		{"unknown role denied", "superuser", ResourceOrganization, ActionRead, false},
		{"unknown resource denied", "org_admin", Resource("billing"), ActionRead, false},
		{"unknown action denied", "org_admin", ResourceAssessment, Action("impersonate"), false},
		{"empty role denied", "", ResourceReview, ActionRead, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Allowed(tc.role, tc.resource, tc.action); got != tc.want {
				t.Fatalf("Allowed(%q, %q, %q): got=%v want=%v", tc.role, tc.resource, tc.action, got, tc.want)
			}
		})
	}
}

func TestAnyAllowed(t *testing.T) {
	t.Parallel()

	roles := []string{"member", "reviewer"}
	if !AnyAllowed(roles, ResourceFinding, ActionCreate) {
		t.Fatalf("AnyAllowed(member+reviewer, finding, create): got=false want=true")
	}
	if AnyAllowed(roles, ResourceQuestionnaire, ActionPublish) {
		t.Fatalf("AnyAllowed(member+reviewer, questionnaire, publish): got=true want=false")
	}
	if AnyAllowed(nil, ResourceReview, ActionRead) {
		t.Fatalf("AnyAllowed(no roles): got=true want=false")
	}
}

func TestEveryRoleSeesOwnNotifications(t *testing.T) {
	t.Parallel()
	for role := range matrix {
		if !Allowed(role, ResourceNotification, ActionRead) {
			t.Fatalf("role %q cannot read notifications", role)
		}
		if !Allowed(role, ResourceNotification, ActionUpdate) {
			t.Fatalf("role %q cannot mark notifications read", role)
		}
	}
}
