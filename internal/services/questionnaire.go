package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type CreateQuestionnaireInput struct {
	Slug        string
	Title       types.BilingualText
	Description types.BilingualText
}

type UpdateQuestionnaireInput struct {
	Title       *types.BilingualText
	Description *types.BilingualText
}

type DomainInput struct {
	Code   string
	Name   types.BilingualText
	Weight float64
}

type QuestionInput struct {
	Kind     string
	Text     types.BilingualText
	Guidance types.BilingualText
	Required bool
}

// QuestionnaireDetail is the full authoring view: raw bilingual texts, all
// domains and questions in position order.
type QuestionnaireDetail struct {
	Questionnaire *types.Questionnaire       `json:"questionnaire"`
	Domains       []QuestionnaireDomainGroup `json:"domains"`
}

type QuestionnaireDomainGroup struct {
	Domain    *types.QuestionnaireDomain `json:"domain"`
	Questions []*types.Question          `json:"questions"`
}

// Resolved views carry single-language text for clients. Fallback marks
// records whose French translation was missing.
type ResolvedQuestionnaire struct {
	ID          uuid.UUID        `json:"id"`
	Slug        string           `json:"slug"`
	Version     int              `json:"version"`
	Status      string           `json:"status"`
	Locale      string           `json:"locale"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Fallback    bool             `json:"fallback,omitempty"`
	Domains     []ResolvedDomain `json:"domains"`
}

type ResolvedDomain struct {
	ID        uuid.UUID          `json:"id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Position  int                `json:"position"`
	Weight    float64            `json:"weight"`
	Fallback  bool               `json:"fallback,omitempty"`
	Questions []ResolvedQuestion `json:"questions"`
}

type ResolvedQuestion struct {
	ID       uuid.UUID `json:"id"`
	Kind     string    `json:"kind"`
	Position int       `json:"position"`
	Text     string    `json:"text"`
	Guidance string    `json:"guidance,omitempty"`
	Required bool      `json:"required"`
	Fallback bool      `json:"fallback,omitempty"`
}

type QuestionnaireService interface {
	CreateDraft(ctx context.Context, input CreateQuestionnaireInput) (*types.Questionnaire, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, input UpdateQuestionnaireInput) (*types.Questionnaire, error)
	Publish(ctx context.Context, id uuid.UUID) (*types.Questionnaire, error)
	Retire(ctx context.Context, id uuid.UUID) (*types.Questionnaire, error)
	List(ctx context.Context, status string) ([]*types.Questionnaire, error)
	Get(ctx context.Context, id uuid.UUID) (*QuestionnaireDetail, error)
	GetResolved(ctx context.Context, id uuid.UUID, locale string) (*ResolvedQuestionnaire, error)
	LatestPublished(ctx context.Context, slug string) (*types.Questionnaire, error)

	AddDomain(ctx context.Context, questionnaireID uuid.UUID, input DomainInput) (*types.QuestionnaireDomain, error)
	UpdateDomain(ctx context.Context, domainID uuid.UUID, input DomainInput) (*types.QuestionnaireDomain, error)
	DeleteDomain(ctx context.Context, domainID uuid.UUID) error
	ReorderDomains(ctx context.Context, questionnaireID uuid.UUID, orderedIDs []uuid.UUID) error

	AddQuestion(ctx context.Context, domainID uuid.UUID, input QuestionInput) (*types.Question, error)
	UpdateQuestion(ctx context.Context, questionID uuid.UUID, input QuestionInput) (*types.Question, error)
	DeleteQuestion(ctx context.Context, questionID uuid.UUID) error
	ReorderQuestions(ctx context.Context, domainID uuid.UUID, orderedIDs []uuid.UUID) error
}

type questionnaireService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.QuestionnaireRepo
	users repos.UserRepo
}

func NewQuestionnaireService(db *gorm.DB, baseLog *logger.Logger, repo repos.QuestionnaireRepo, users repos.UserRepo) QuestionnaireService {
	return &questionnaireService{
		db:    db,
		log:   baseLog.With("service", "QuestionnaireService"),
		repo:  repo,
		users: users,
	}
}

// CreateDraft opens a new version for the slug. The version number is
// provisional (max+1 at creation) and re-checked at publish time so parallel
// drafts cannot collide.
func (s *questionnaireService) CreateDraft(ctx context.Context, input CreateQuestionnaireInput) (*types.Questionnaire, error) {
	actor, err := requireCoordinator(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, apierr.BadRequest("invalid_slug", fmt.Errorf("slug %q is not valid", input.Slug))
	}
	if err := input.Title.Validate(); err != nil {
		return nil, apierr.BadRequest("english_text_required", err)
	}

	var q *types.Questionnaire
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		maxVersion, err := s.repo.MaxVersionForSlug(ctx, tx, slug)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		q = &types.Questionnaire{
			ID:          uuid.New(),
			Slug:        slug,
			Version:     maxVersion + 1,
			Status:      types.QuestionnaireDraft,
			Title:       input.Title,
			Description: input.Description,
			CreatedBy:   actor.ID,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.Questionnaire{q}); err != nil {
			return apierr.Internal("questionnaire_create_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *questionnaireService) UpdateDraft(ctx context.Context, id uuid.UUID, input UpdateQuestionnaireInput) (*types.Questionnaire, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var q *types.Questionnaire
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		q, err = s.loadEditable(ctx, tx, id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if input.Title != nil {
			if err := input.Title.Validate(); err != nil {
				return apierr.BadRequest("english_text_required", err)
			}
			updates["title"] = *input.Title
			q.Title = *input.Title
		}
		if input.Description != nil {
			updates["description"] = *input.Description
			q.Description = *input.Description
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.repo.UpdateFields(ctx, tx, q.ID, updates); err != nil {
			return apierr.Internal("questionnaire_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Publish freezes the draft and makes it the live version for its slug. The
// previously published version (if any) is retired in the same transaction,
// so there is never a moment with two live versions of one questionnaire.
func (s *questionnaireService) Publish(ctx context.Context, id uuid.UUID) (*types.Questionnaire, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var q *types.Questionnaire
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		q, err = s.loadQuestionnaire(ctx, tx, id)
		if err != nil {
			return err
		}
		if q.Status != types.QuestionnaireDraft {
			return apierr.Conflict("questionnaire_not_draft", fmt.Errorf("questionnaire %s is %s", q.ID, q.Status))
		}
		domains, err := s.repo.ListDomains(ctx, tx, q.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if len(domains) == 0 {
			return apierr.Unprocessable("questionnaire_empty", fmt.Errorf("questionnaire has no domains"))
		}
		count, err := s.repo.CountQuestions(ctx, tx, q.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if count == 0 {
			return apierr.Unprocessable("questionnaire_empty", fmt.Errorf("questionnaire has no questions"))
		}

		now := time.Now()
		previous, err := s.repo.LatestPublishedBySlug(ctx, tx, q.Slug)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if previous != nil && previous.ID != q.ID {
			if err := s.repo.UpdateFields(ctx, tx, previous.ID, map[string]interface{}{
				"status":     types.QuestionnaireRetired,
				"retired_at": now,
				"updated_at": now,
			}); err != nil {
				return apierr.Internal("questionnaire_update_failed", err)
			}
		}

		updates := map[string]interface{}{
			"status":       types.QuestionnairePublished,
			"published_at": now,
			"updated_at":   now,
		}
		// Another draft of the same slug may have published since this one
		// was created; take the next free version so the live one is always
		// the highest.
		maxVersion, err := s.repo.MaxVersionForSlug(ctx, tx, q.Slug)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if q.Version < maxVersion {
			q.Version = maxVersion + 1
			updates["version"] = q.Version
		}
		if err := s.repo.UpdateFields(ctx, tx, q.ID, updates); err != nil {
			return apierr.Internal("questionnaire_update_failed", err)
		}
		q.Status = types.QuestionnairePublished
		q.PublishedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *questionnaireService) Retire(ctx context.Context, id uuid.UUID) (*types.Questionnaire, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var q *types.Questionnaire
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		q, err = s.loadQuestionnaire(ctx, tx, id)
		if err != nil {
			return err
		}
		if q.Status != types.QuestionnairePublished {
			return apierr.Conflict("questionnaire_not_published", fmt.Errorf("questionnaire %s is %s", q.ID, q.Status))
		}
		now := time.Now()
		if err := s.repo.UpdateFields(ctx, tx, q.ID, map[string]interface{}{
			"status":     types.QuestionnaireRetired,
			"retired_at": now,
			"updated_at": now,
		}); err != nil {
			return apierr.Internal("questionnaire_update_failed", err)
		}
		q.Status = types.QuestionnaireRetired
		q.RetiredAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *questionnaireService) List(ctx context.Context, status string) ([]*types.Questionnaire, error) {
	rows, err := s.repo.List(ctx, nil, strings.TrimSpace(status))
	if err != nil {
		return nil, apierr.Internal("questionnaire_list_failed", err)
	}
	return rows, nil
}

func (s *questionnaireService) Get(ctx context.Context, id uuid.UUID) (*QuestionnaireDetail, error) {
	q, err := s.loadQuestionnaire(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	domains, err := s.repo.ListDomains(ctx, nil, q.ID)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	detail := &QuestionnaireDetail{Questionnaire: q, Domains: make([]QuestionnaireDomainGroup, 0, len(domains))}
	for _, d := range domains {
		questions, err := s.repo.ListQuestionsByDomain(ctx, nil, d.ID)
		if err != nil {
			return nil, apierr.Internal("questionnaire_lookup_failed", err)
		}
		detail.Domains = append(detail.Domains, QuestionnaireDomainGroup{Domain: d, Questions: questions})
	}
	return detail, nil
}

// GetResolved renders the questionnaire in one language. Missing French
// translations fall back to English and flag the record, so clients can show
// an "English only" marker instead of a blank.
func (s *questionnaireService) GetResolved(ctx context.Context, id uuid.UUID, locale string) (*ResolvedQuestionnaire, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	locale = types.NormalizeLocale(locale)
	q := detail.Questionnaire

	title, titleOK := q.Title.Resolve(locale)
	description, descOK := q.Description.Resolve(locale)
	out := &ResolvedQuestionnaire{
		ID:          q.ID,
		Slug:        q.Slug,
		Version:     q.Version,
		Status:      q.Status,
		Locale:      locale,
		Title:       title,
		Description: description,
		Fallback:    !titleOK || (!descOK && !q.Description.IsZero()),
		Domains:     make([]ResolvedDomain, 0, len(detail.Domains)),
	}
	for _, group := range detail.Domains {
		name, nameOK := group.Domain.Name.Resolve(locale)
		rd := ResolvedDomain{
			ID:        group.Domain.ID,
			Code:      group.Domain.Code,
			Name:      name,
			Position:  group.Domain.Position,
			Weight:    group.Domain.Weight,
			Fallback:  !nameOK,
			Questions: make([]ResolvedQuestion, 0, len(group.Questions)),
		}
		for _, question := range group.Questions {
			text, textOK := question.Text.Resolve(locale)
			guidance, guidanceOK := question.Guidance.Resolve(locale)
			rd.Questions = append(rd.Questions, ResolvedQuestion{
				ID:       question.ID,
				Kind:     question.Kind,
				Position: question.Position,
				Text:     text,
				Guidance: guidance,
				Required: question.Required,
				Fallback: !textOK || (!guidanceOK && !question.Guidance.IsZero()),
			})
		}
		out.Domains = append(out.Domains, rd)
	}
	return out, nil
}

func (s *questionnaireService) LatestPublished(ctx context.Context, slug string) (*types.Questionnaire, error) {
	q, err := s.repo.LatestPublishedBySlug(ctx, nil, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	if q == nil {
		return nil, apierr.NotFound("questionnaire_not_found", fmt.Errorf("no published questionnaire for slug %s", slug))
	}
	return q, nil
}

func (s *questionnaireService) AddDomain(ctx context.Context, questionnaireID uuid.UUID, input DomainInput) (*types.QuestionnaireDomain, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	code := strings.ToLower(strings.TrimSpace(input.Code))
	if !slugPattern.MatchString(code) {
		return nil, apierr.BadRequest("invalid_domain_code", fmt.Errorf("domain code %q is not valid", input.Code))
	}
	if err := input.Name.Validate(); err != nil {
		return nil, apierr.BadRequest("english_text_required", err)
	}
	weight := input.Weight
	if weight <= 0 {
		weight = 1
	}

	var domain *types.QuestionnaireDomain
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.loadEditable(ctx, tx, questionnaireID)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListDomains(ctx, tx, q.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		for _, d := range existing {
			if d.Code == code {
				return apierr.Conflict("domain_code_taken", fmt.Errorf("domain code %s already used", code))
			}
		}
		domain = &types.QuestionnaireDomain{
			ID:              uuid.New(),
			QuestionnaireID: q.ID,
			Code:            code,
			Name:            input.Name,
			Position:        len(existing),
			Weight:          weight,
		}
		if _, err := s.repo.CreateDomains(ctx, tx, []*types.QuestionnaireDomain{domain}); err != nil {
			return apierr.Internal("domain_create_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domain, nil
}

func (s *questionnaireService) UpdateDomain(ctx context.Context, domainID uuid.UUID, input DomainInput) (*types.QuestionnaireDomain, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var domain *types.QuestionnaireDomain
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		domain, err = s.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if !input.Name.IsZero() {
			if err := input.Name.Validate(); err != nil {
				return apierr.BadRequest("english_text_required", err)
			}
			updates["name"] = input.Name
			domain.Name = input.Name
		}
		if input.Weight > 0 {
			updates["weight"] = input.Weight
			domain.Weight = input.Weight
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.repo.UpdateDomainFields(ctx, tx, domain.ID, updates); err != nil {
			return apierr.Internal("domain_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domain, nil
}

func (s *questionnaireService) DeleteDomain(ctx context.Context, domainID uuid.UUID) error {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		domain, err := s.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		questions, err := s.repo.ListQuestionsByDomain(ctx, tx, domain.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		for _, question := range questions {
			if err := s.repo.DeleteQuestion(ctx, tx, question.ID); err != nil {
				return apierr.Internal("question_delete_failed", err)
			}
		}
		if err := s.repo.DeleteDomain(ctx, tx, domain.ID); err != nil {
			return apierr.Internal("domain_delete_failed", err)
		}
		return nil
	})
}

// ReorderDomains rewrites positions to match the given order. Every current
// domain must appear exactly once.
func (s *questionnaireService) ReorderDomains(ctx context.Context, questionnaireID uuid.UUID, orderedIDs []uuid.UUID) error {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := s.loadEditable(ctx, tx, questionnaireID)
		if err != nil {
			return err
		}
		domains, err := s.repo.ListDomains(ctx, tx, q.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		byID := make(map[uuid.UUID]*types.QuestionnaireDomain, len(domains))
		for _, d := range domains {
			byID[d.ID] = d
		}
		if len(orderedIDs) != len(domains) {
			return apierr.BadRequest("invalid_order", fmt.Errorf("expected %d domain ids, got %d", len(domains), len(orderedIDs)))
		}
		for position, id := range orderedIDs {
			d, ok := byID[id]
			if !ok {
				return apierr.BadRequest("invalid_order", fmt.Errorf("domain %s does not belong to questionnaire %s", id, q.ID))
			}
			delete(byID, id)
			if d.Position == position {
				continue
			}
			if err := s.repo.UpdateDomainFields(ctx, tx, id, map[string]interface{}{"position": position}); err != nil {
				return apierr.Internal("domain_update_failed", err)
			}
		}
		return nil
	})
}

func (s *questionnaireService) AddQuestion(ctx context.Context, domainID uuid.UUID, input QuestionInput) (*types.Question, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	if !types.ValidQuestionKind(input.Kind) {
		return nil, apierr.BadRequest("invalid_question_kind", fmt.Errorf("kind %q is not valid", input.Kind))
	}
	if err := input.Text.Validate(); err != nil {
		return nil, apierr.BadRequest("english_text_required", err)
	}

	var question *types.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		domain, err := s.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		existing, err := s.repo.ListQuestionsByDomain(ctx, tx, domain.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		question = &types.Question{
			ID:       uuid.New(),
			DomainID: domain.ID,
			Position: len(existing),
			Kind:     input.Kind,
			Text:     input.Text,
			Guidance: input.Guidance,
			Required: input.Required,
		}
		if _, err := s.repo.CreateQuestions(ctx, tx, []*types.Question{question}); err != nil {
			return apierr.Internal("question_create_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

func (s *questionnaireService) UpdateQuestion(ctx context.Context, questionID uuid.UUID, input QuestionInput) (*types.Question, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var question *types.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		question, err = s.loadQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		domain, err := s.loadDomain(ctx, tx, question.DomainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if input.Kind != "" && input.Kind != question.Kind {
			if !types.ValidQuestionKind(input.Kind) {
				return apierr.BadRequest("invalid_question_kind", fmt.Errorf("kind %q is not valid", input.Kind))
			}
			updates["kind"] = input.Kind
			question.Kind = input.Kind
		}
		if !input.Text.IsZero() {
			if err := input.Text.Validate(); err != nil {
				return apierr.BadRequest("english_text_required", err)
			}
			updates["text"] = input.Text
			question.Text = input.Text
		}
		if !input.Guidance.IsZero() {
			updates["guidance"] = input.Guidance
			question.Guidance = input.Guidance
		}
		if input.Required != question.Required {
			updates["required"] = input.Required
			question.Required = input.Required
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.repo.UpdateQuestionFields(ctx, tx, question.ID, updates); err != nil {
			return apierr.Internal("question_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

func (s *questionnaireService) DeleteQuestion(ctx context.Context, questionID uuid.UUID) error {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.loadQuestion(ctx, tx, questionID)
		if err != nil {
			return err
		}
		domain, err := s.loadDomain(ctx, tx, question.DomainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		if err := s.repo.DeleteQuestion(ctx, tx, question.ID); err != nil {
			return apierr.Internal("question_delete_failed", err)
		}
		return nil
	})
}

func (s *questionnaireService) ReorderQuestions(ctx context.Context, domainID uuid.UUID, orderedIDs []uuid.UUID) error {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		domain, err := s.loadDomain(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if _, err := s.loadEditable(ctx, tx, domain.QuestionnaireID); err != nil {
			return err
		}
		questions, err := s.repo.ListQuestionsByDomain(ctx, tx, domain.ID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		byID := make(map[uuid.UUID]*types.Question, len(questions))
		for _, question := range questions {
			byID[question.ID] = question
		}
		if len(orderedIDs) != len(questions) {
			return apierr.BadRequest("invalid_order", fmt.Errorf("expected %d question ids, got %d", len(questions), len(orderedIDs)))
		}
		for position, id := range orderedIDs {
			question, ok := byID[id]
			if !ok {
				return apierr.BadRequest("invalid_order", fmt.Errorf("question %s does not belong to domain %s", id, domain.ID))
			}
			delete(byID, id)
			if question.Position == position {
				continue
			}
			if err := s.repo.UpdateQuestionFields(ctx, tx, id, map[string]interface{}{"position": position}); err != nil {
				return apierr.Internal("question_update_failed", err)
			}
		}
		return nil
	})
}

func (s *questionnaireService) loadQuestionnaire(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Questionnaire, error) {
	q, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	if q == nil {
		return nil, apierr.NotFound("questionnaire_not_found", fmt.Errorf("questionnaire %s not found", id))
	}
	return q, nil
}

// loadEditable loads the questionnaire and rejects edits to anything but a
// draft: published versions are immutable.
func (s *questionnaireService) loadEditable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Questionnaire, error) {
	q, err := s.loadQuestionnaire(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != types.QuestionnaireDraft {
		return nil, apierr.Conflict("questionnaire_frozen", fmt.Errorf("questionnaire %s is %s and cannot be edited", q.ID, q.Status))
	}
	return q, nil
}

func (s *questionnaireService) loadDomain(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.QuestionnaireDomain, error) {
	d, err := s.repo.GetDomain(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	if d == nil {
		return nil, apierr.NotFound("domain_not_found", fmt.Errorf("domain %s not found", id))
	}
	return d, nil
}

func (s *questionnaireService) loadQuestion(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Question, error) {
	question, err := s.repo.GetQuestion(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	if question == nil {
		return nil, apierr.NotFound("question_not_found", fmt.Errorf("question %s not found", id))
	}
	return question, nil
}
