// Package rbac is the static permission matrix for the peer-review
// programme. It is a lookup table, not a policy engine: the matrix answers
// "may this role ever do this", and services layer the finer ownership and
// scope rules (own organization, own team seat, host vs reviewer side) on
// top.
package rbac

type Resource string

type Action string

const (
	ResourceOrganization  Resource = "organization"
	ResourceMembership    Resource = "membership"
	ResourceQuestionnaire Resource = "questionnaire"
	ResourceAssessment    Resource = "assessment"
	ResourceReview        Resource = "review"
	ResourceReviewTeam    Resource = "review_team"
	ResourceFinding       Resource = "finding"
	ResourceActionPlan    Resource = "action_plan"
	ResourceReport        Resource = "report"
	ResourceNotification  Resource = "notification"
	ResourceStatistics    Resource = "statistics"
	ResourceSync          Resource = "sync"
)

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionSubmit     Action = "submit"
	ActionApprove    Action = "approve"
	ActionSchedule   Action = "schedule"
	ActionTransition Action = "transition"
	ActionAssign     Action = "assign"
	ActionPublish    Action = "publish"
	ActionExport     Action = "export"
)

// matrix maps role → resource → permitted actions. Roles are the programme
// roles plus the organization-scoped membership roles; a request's effective
// role set is the union of both. Anything absent is denied.
var matrix = map[string]map[Resource][]Action{
	"programme_coordinator": {
		ResourceOrganization:  {ActionCreate, ActionRead, ActionUpdate, ActionApprove, ActionTransition},
		ResourceMembership:    {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
		ResourceQuestionnaire: {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionPublish},
		ResourceAssessment:    {ActionRead, ActionTransition},
		ResourceReview:        {ActionCreate, ActionRead, ActionUpdate, ActionSchedule, ActionTransition},
		ResourceReviewTeam:    {ActionRead, ActionAssign, ActionUpdate, ActionDelete},
		ResourceFinding:       {ActionRead, ActionTransition, ActionExport},
		ResourceActionPlan:    {ActionRead, ActionTransition},
		ResourceReport:        {ActionCreate, ActionRead, ActionExport},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead, ActionExport},
		ResourceSync:          {ActionRead},
	},
	"auditor": {
		ResourceOrganization:  {ActionRead},
		ResourceMembership:    {ActionRead},
		ResourceQuestionnaire: {ActionRead},
		ResourceAssessment:    {ActionRead},
		ResourceReview:        {ActionRead},
		ResourceReviewTeam:    {ActionRead},
		ResourceFinding:       {ActionRead, ActionExport},
		ResourceActionPlan:    {ActionRead},
		ResourceReport:        {ActionRead, ActionExport},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead, ActionExport},
		ResourceSync:          {ActionRead},
	},
	"org_admin": {
		ResourceOrganization:  {ActionRead, ActionUpdate},
		ResourceMembership:    {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
		ResourceQuestionnaire: {ActionRead},
		ResourceAssessment:    {ActionCreate, ActionRead, ActionUpdate, ActionSubmit},
		ResourceReview:        {ActionCreate, ActionRead},
		ResourceReviewTeam:    {ActionRead, ActionUpdate},
		ResourceFinding:       {ActionRead},
		ResourceActionPlan:    {ActionCreate, ActionRead, ActionUpdate, ActionTransition},
		ResourceReport:        {ActionRead, ActionExport},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead},
	},
	"safety_manager": {
		ResourceOrganization:  {ActionRead},
		ResourceMembership:    {ActionRead},
		ResourceQuestionnaire: {ActionRead},
		ResourceAssessment:    {ActionCreate, ActionRead, ActionUpdate, ActionSubmit},
		ResourceReview:        {ActionCreate, ActionRead},
		ResourceReviewTeam:    {ActionRead, ActionUpdate},
		ResourceFinding:       {ActionRead},
		ResourceActionPlan:    {ActionCreate, ActionRead, ActionUpdate, ActionTransition},
		ResourceReport:        {ActionRead, ActionExport},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead},
	},
	"reviewer": {
		ResourceOrganization:  {ActionRead},
		ResourceQuestionnaire: {ActionRead},
		ResourceAssessment:    {ActionRead},
		ResourceReview:        {ActionRead},
		ResourceReviewTeam:    {ActionRead, ActionUpdate},
		ResourceFinding:       {ActionCreate, ActionRead, ActionUpdate, ActionTransition},
		ResourceActionPlan:    {ActionRead, ActionTransition},
		ResourceReport:        {ActionRead},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead},
		ResourceSync:          {ActionCreate, ActionRead},
	},
	"member": {
		ResourceOrganization:  {ActionRead},
		ResourceQuestionnaire: {ActionRead},
		ResourceAssessment:    {ActionRead},
		ResourceReview:        {ActionRead},
		ResourceReviewTeam:    {ActionRead},
		ResourceFinding:       {ActionRead},
		ResourceActionPlan:    {ActionRead},
		ResourceReport:        {ActionRead},
		ResourceNotification:  {ActionRead, ActionUpdate},
		ResourceStatistics:    {ActionRead},
	},
}

// Allowed reports whether the role may perform the action on the resource.
// Unknown roles, resources and actions all deny.
func Allowed(role string, resource Resource, action Action) bool {
	grants, ok := matrix[role]
	if !ok {
		return false
	}
	for _, a := range grants[resource] {
		if a == action {
			return true
		}
	}
	return false
}

// AnyAllowed reports whether at least one role in the set passes Allowed.
func AnyAllowed(roles []string, resource Resource, action Action) bool {
	for _, role := range roles {
		if Allowed(role, resource, action) {
			return true
		}
	}
	return false
}
