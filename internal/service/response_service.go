package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/internal/repository"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/events"
	"github.com/noah-isme/followup-api/pkg/linktoken"
)

type dispatchFinder interface {
	FindByID(ctx context.Context, id string) (*models.Dispatch, error)
}

type responseWriter interface {
	Create(ctx context.Context, resp *models.Response) error
}

type linkParser interface {
	Parse(token string) (*linktoken.Claims, error)
}

// ResponseService serves patient forms and records their answers.
type ResponseService struct {
	dispatches dispatchFinder
	responses  responseWriter
	links      linkParser
	events     eventPublisher
	cache      ownerCache
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	threshold  float64
	now        func() time.Time
}

// NewResponseService constructs the service. threshold is the critical score
// shared with the alert detector.
func NewResponseService(dispatches dispatchFinder, responses responseWriter, links linkParser, publisher eventPublisher, cache ownerCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, threshold float64) *ResponseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if threshold <= 0 {
		threshold = models.DefaultCriticalThreshold
	}
	return &ResponseService{
		dispatches: dispatches,
		responses:  responses,
		links:      links,
		events:     publisher,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		threshold:  threshold,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Form returns the questionnaire snapshot behind a patient link.
func (s *ResponseService) Form(ctx context.Context, token string) (*dto.PublicFormResponse, error) {
	d, err := s.openDispatch(ctx, token)
	if err != nil {
		return nil, err
	}
	return &dto.PublicFormResponse{DispatchID: d.ID, Title: d.Title, Pathology: d.Pathology, Questions: d.Questions}, nil
}

// Submit scores the answers, stores the response and completes the dispatch.
func (s *ResponseService) Submit(ctx context.Context, token string, req dto.SubmitResponseRequest) (*dto.SubmitResponseResult, error) {
	d, err := s.openDispatch(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answers")
	}
	if len(req.Answers) != len(d.Questions) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("expected %d answers, got %d", len(d.Questions), len(req.Answers)))
	}
	for i, a := range req.Answers {
		if a < models.MinAnswer || a > models.MaxAnswer {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("answer %d must be between %d and %d", i+1, models.MinAnswer, models.MaxAnswer))
		}
	}

	score := models.ComputeScore(req.Answers)
	resp := &models.Response{
		DispatchID:   d.ID,
		OwnerID:      d.OwnerID,
		Answers:      models.AnswerList(req.Answers),
		Total:        score.Total,
		AverageScore: score.Average,
		Score:        score.Rounded,
		SubmittedAt:  s.now(),
	}
	if err := s.responses.Create(ctx, resp); err != nil {
		if errors.Is(err, repository.ErrDispatchClosed) || errors.Is(err, repository.ErrResponseExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "questionnaire already answered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record response")
	}

	s.publish(ctx, events.Event{Type: events.TypeResponseSubmitted, OwnerID: d.OwnerID, DispatchID: d.ID, ResponseID: resp.ID, Score: &resp.Score, OccurredAt: resp.SubmittedAt})
	if resp.AverageScore <= s.threshold {
		s.metrics.RecordAlertRaised()
		s.publish(ctx, events.Event{Type: events.TypeAlertRaised, OwnerID: d.OwnerID, DispatchID: d.ID, ResponseID: resp.ID, Score: &resp.Score, OccurredAt: resp.SubmittedAt})
	}
	if s.cache != nil {
		s.cache.InvalidateOwner(ctx, d.OwnerID)
	}

	return &dto.SubmitResponseResult{ResponseID: resp.ID, Score: resp.Score, SubmittedAt: resp.SubmittedAt}, nil
}

// openDispatch resolves a link token to a dispatch that still accepts a response.
func (s *ResponseService) openDispatch(ctx context.Context, token string) (*models.Dispatch, error) {
	claims, err := s.links.Parse(token)
	if err != nil {
		if errors.Is(err, linktoken.ErrExpired) {
			return nil, appErrors.ErrLinkExpired
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire link not found")
	}
	d, err := s.dispatches.FindByID(ctx, claims.DispatchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire link not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questionnaire")
	}
	if d.OwnerID != claims.OwnerID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire link not found")
	}
	switch {
	case d.Status == models.DispatchStatusCompleted:
		return nil, appErrors.Clone(appErrors.ErrConflict, "questionnaire already answered")
	case d.Status == models.DispatchStatusExpired:
		return nil, appErrors.ErrLinkExpired
	case !d.Status.Accepts(models.DispatchEventRespond):
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "questionnaire is not open for answers")
	}
	return d, nil
}

func (s *ResponseService) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Sugar().Warnw("event publish failed", "type", evt.Type, "error", err)
	}
}
