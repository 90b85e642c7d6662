package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/events"
)

type responseFinder interface {
	FindByID(ctx context.Context, ownerID, id string) (*models.ResponseWithDispatch, error)
}

type resolutionStore interface {
	Upsert(ctx context.Context, res *models.Resolution) error
	FindByResponse(ctx context.Context, ownerID, responseID string) (*models.Resolution, error)
}

// ResolutionService records the practitioner workflow on alerts.
type ResolutionService struct {
	responses   responseFinder
	resolutions resolutionStore
	events      eventPublisher
	cache       ownerCache
	logger      *zap.Logger
	threshold   float64
	now         func() time.Time
}

// NewResolutionService constructs a ResolutionService.
func NewResolutionService(responses responseFinder, resolutions resolutionStore, publisher eventPublisher, cache ownerCache, logger *zap.Logger, threshold float64) *ResolutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if threshold <= 0 {
		threshold = models.DefaultCriticalThreshold
	}
	return &ResolutionService{
		responses:   responses,
		resolutions: resolutions,
		events:      publisher,
		cache:       cache,
		logger:      logger,
		threshold:   threshold,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored resolution, or a new one when nobody engaged yet.
func (s *ResolutionService) Get(ctx context.Context, ownerID, responseID string) (*models.Resolution, error) {
	res, err := s.resolutions.FindByResponse(ctx, ownerID, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			fresh := models.NewResolution(ownerID, responseID)
			return &fresh, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resolution")
	}
	return res, nil
}

// TakeAction marks the alert in progress and assigns it to actor.
func (s *ResolutionService) TakeAction(ctx context.Context, ownerID, responseID, actor string) (*models.Resolution, error) {
	if _, err := s.eligible(ctx, ownerID, responseID); err != nil {
		return nil, err
	}
	res := &models.Resolution{
		ResponseID: responseID,
		OwnerID:    ownerID,
		Status:     models.ResolutionStatusInProgress,
		AssignedTo: optionalString(actor),
		UpdatedAt:  s.now(),
	}
	return s.write(ctx, res)
}

// Resolve closes the alert with a mandatory note. A prior TakeAction is not required.
func (s *ResolutionService) Resolve(ctx context.Context, ownerID, responseID, note, actor string) (*models.Resolution, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resolution note is required")
	}
	resp, err := s.eligible(ctx, ownerID, responseID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := &models.Resolution{
		ResponseID: responseID,
		OwnerID:    ownerID,
		Status:     models.ResolutionStatusResolved,
		Note:       &note,
		ResolvedBy: optionalString(actor),
		ResolvedAt: &now,
		UpdatedAt:  now,
	}
	stored, err := s.write(ctx, res)
	if err != nil {
		return nil, err
	}
	score := resp.Score
	evt := events.Event{Type: events.TypeAlertResolved, OwnerID: ownerID, DispatchID: resp.DispatchID, ResponseID: responseID, Score: &score, OccurredAt: now}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Sugar().Warnw("event publish failed", "type", evt.Type, "error", err)
	}
	return stored, nil
}

func (s *ResolutionService) eligible(ctx context.Context, ownerID, responseID string) (*models.ResponseWithDispatch, error) {
	resp, err := s.responses.FindByID(ctx, ownerID, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}
	if resp.AverageScore > s.threshold {
		return nil, appErrors.Clone(appErrors.ErrValidation, "response is not a critical alert")
	}
	return resp, nil
}

func (s *ResolutionService) write(ctx context.Context, res *models.Resolution) (*models.Resolution, error) {
	if err := s.resolutions.Upsert(ctx, res); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save resolution")
	}
	if s.cache != nil {
		s.cache.InvalidateOwner(ctx, res.OwnerID)
	}
	stored, err := s.resolutions.FindByResponse(ctx, res.OwnerID, res.ResponseID)
	if err != nil {
		s.logger.Sugar().Warnw("resolution reload failed", "response_id", res.ResponseID, "error", err)
		return res, nil
	}
	return stored, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
