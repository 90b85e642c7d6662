package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/internal/repository"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
)

type dispatchCounter interface {
	CountByStatus(ctx context.Context, ownerID string) (map[models.DispatchStatus]int, error)
}

type responseStatter interface {
	Stats(ctx context.Context, ownerID string, threshold float64) (*repository.ResponseStats, error)
}

type alertCounter interface {
	CountAlertsByStatus(ctx context.Context, ownerID string, threshold float64) (map[models.ResolutionStatus]int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL  time.Duration
	Threshold float64
}

// DashboardService composes the practitioner dashboard summary.
type DashboardService struct {
	dispatches  dispatchCounter
	responses   responseStatter
	resolutions alertCounter
	cache       *CacheService
	logger      *zap.Logger
	cfg         DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(dispatches dispatchCounter, responses responseStatter, resolutions alertCounter, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = models.DefaultCriticalThreshold
	}
	return &DashboardService{
		dispatches:  dispatches,
		responses:   responses,
		resolutions: resolutions,
		cache:       cache,
		logger:      logger,
		cfg:         cfg,
	}
}

// Summary returns the owner's dashboard and whether it was served from cache.
func (s *DashboardService) Summary(ctx context.Context, ownerID string) (*dto.DashboardSummary, bool, error) {
	key := DashboardCacheKey(ownerID)
	var cached dto.DashboardSummary
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	byStatus, err := s.dispatches.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count dispatches")
	}
	stats, err := s.responses.Stats(ctx, ownerID, s.cfg.Threshold)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate responses")
	}
	alerts, err := s.resolutions.CountAlertsByStatus(ctx, ownerID, s.cfg.Threshold)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count alerts")
	}

	summary := &dto.DashboardSummary{
		OwnerID:           ownerID,
		ByStatus:          make(map[string]int, len(byStatus)),
		ResponsesTotal:    stats.Total,
		AverageScore:      round1(stats.AverageScore),
		ResolutionsByStep: make(map[string]int, 3),
		CriticalThreshold: s.cfg.Threshold,
	}
	for _, status := range []models.DispatchStatus{models.DispatchStatusPending, models.DispatchStatusScheduled, models.DispatchStatusSent, models.DispatchStatusCompleted, models.DispatchStatusExpired} {
		summary.ByStatus[string(status)] = byStatus[status]
	}
	for status, n := range byStatus {
		summary.DispatchesTotal += n
		if !status.Valid() {
			summary.ByStatus["unknown"] += n
		}
	}
	if summary.DispatchesTotal > 0 {
		summary.CompletionRate = round1(float64(byStatus[models.DispatchStatusCompleted]) * 100 / float64(summary.DispatchesTotal))
	}
	for _, status := range []models.ResolutionStatus{models.ResolutionStatusNew, models.ResolutionStatusInProgress, models.ResolutionStatusResolved} {
		n := alerts[status]
		summary.ResolutionsByStep[string(status)] = n
		summary.AlertsTotal += n
		if status != models.ResolutionStatusResolved {
			summary.AlertsUnresolved += n
		}
	}

	s.cache.Set(ctx, key, summary, s.cfg.CacheTTL)
	return summary, false, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
