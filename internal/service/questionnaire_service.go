package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
)

type questionnaireStore interface {
	Create(ctx context.Context, q *models.Questionnaire) error
	Update(ctx context.Context, q *models.Questionnaire) error
	FindByID(ctx context.Context, ownerID, id string) (*models.Questionnaire, error)
	List(ctx context.Context, ownerID string, page, size int) ([]models.Questionnaire, int, error)
}

// QuestionnaireService manages questionnaire templates owned by practitioners.
type QuestionnaireService struct {
	repo      questionnaireStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewQuestionnaireService constructs the service.
func NewQuestionnaireService(repo questionnaireStore, validate *validator.Validate, logger *zap.Logger) *QuestionnaireService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &QuestionnaireService{repo: repo, validator: validate, logger: logger}
}

// Create stores a new questionnaire for ownerID.
func (s *QuestionnaireService) Create(ctx context.Context, ownerID string, req dto.UpsertQuestionnaireRequest) (*models.Questionnaire, error) {
	q, err := s.build(req)
	if err != nil {
		return nil, err
	}
	q.OwnerID = ownerID
	if err := s.repo.Create(ctx, q); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create questionnaire")
	}
	s.logger.Sugar().Infow("questionnaire created", "owner_id", ownerID, "questionnaire_id", q.ID, "questions", len(q.Questions))
	return q, nil
}

// Update replaces an owned questionnaire's content.
func (s *QuestionnaireService) Update(ctx context.Context, ownerID, id string, req dto.UpsertQuestionnaireRequest) (*models.Questionnaire, error) {
	existing, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	q, err := s.build(req)
	if err != nil {
		return nil, err
	}
	q.ID = existing.ID
	q.OwnerID = ownerID
	q.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update questionnaire")
	}
	return q, nil
}

// Get returns an owned questionnaire.
func (s *QuestionnaireService) Get(ctx context.Context, ownerID, id string) (*models.Questionnaire, error) {
	q, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questionnaire")
	}
	return q, nil
}

// List pages through the owner's questionnaires.
func (s *QuestionnaireService) List(ctx context.Context, ownerID string, page, size int) ([]models.Questionnaire, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	items, total, err := s.repo.List(ctx, ownerID, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list questionnaires")
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *QuestionnaireService) build(req dto.UpsertQuestionnaireRequest) (*models.Questionnaire, error) {
	req.Title = strings.TrimSpace(req.Title)
	questions := make(models.QuestionList, len(req.Questions))
	for i, q := range req.Questions {
		questions[i] = models.Question{
			Text:     strings.TrimSpace(q.Text),
			MinLabel: strings.TrimSpace(q.MinLabel),
			MaxLabel: strings.TrimSpace(q.MaxLabel),
		}
	}
	req.Questions = questions
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid questionnaire payload")
	}

	q := &models.Questionnaire{
		Title:     req.Title,
		Pathology: strings.TrimSpace(req.Pathology),
		Questions: questions,
	}
	if req.DefaultDelayDays != nil {
		delay := models.ClampDelayDays(*req.DefaultDelayDays)
		q.DefaultDelayDays = &delay
	}
	return q, nil
}
