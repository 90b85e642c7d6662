package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
)

type responseReader interface {
	List(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseWithDispatch, error)
}

type resolutionReader interface {
	ListByResponses(ctx context.Context, ownerID string, responseIDs []string) (map[string]models.Resolution, error)
}

// AlertService derives the triage queue from stored responses. Alerts are
// never persisted; only their resolution state is.
type AlertService struct {
	responses   responseReader
	resolutions resolutionReader
	logger      *zap.Logger
	threshold   float64
}

// NewAlertService constructs an AlertService.
func NewAlertService(responses responseReader, resolutions resolutionReader, logger *zap.Logger, threshold float64) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = models.DefaultCriticalThreshold
	}
	return &AlertService{responses: responses, resolutions: resolutions, logger: logger, threshold: threshold}
}

// Threshold returns the critical score in use.
func (s *AlertService) Threshold() float64 {
	return s.threshold
}

// IsCritical reports whether an average score raises an alert.
func (s *AlertService) IsCritical(average float64) bool {
	return average <= s.threshold
}

// List returns the owner's alerts, newest first, merged with their resolution state.
func (s *AlertService) List(ctx context.Context, ownerID string, filter models.AlertFilter) ([]models.Alert, error) {
	if filter.ResolutionStatus != nil && !filter.ResolutionStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown resolution status")
	}
	maxScore := s.threshold
	rows, err := s.responses.List(ctx, models.ResponseFilter{
		OwnerID:   ownerID,
		Pathology: filter.Pathology,
		Since:     filter.Since,
		MaxScore:  &maxScore,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
	}
	if len(rows) == 0 {
		return []models.Alert{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	resolutions, err := s.resolutions.ListByResponses(ctx, ownerID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resolutions")
	}

	alerts := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		// the query already filters on score; keep the check so a custom store cannot leak rows
		if !s.IsCritical(r.AverageScore) {
			continue
		}
		resolution, ok := resolutions[r.ID]
		if !ok {
			resolution = models.NewResolution(ownerID, r.ID)
		}
		if filter.ResolutionStatus != nil && resolution.Status != *filter.ResolutionStatus {
			continue
		}
		alerts = append(alerts, s.buildAlert(r, resolution))
	}
	return alerts, nil
}

func (s *AlertService) buildAlert(r models.ResponseWithDispatch, resolution models.Resolution) models.Alert {
	return models.Alert{
		ResponseID:      r.ID,
		DispatchID:      r.DispatchID,
		RecipientEmail:  r.RecipientEmail,
		Title:           r.Title,
		Pathology:       r.Pathology,
		Score:           r.Score,
		AverageScore:    r.AverageScore,
		SubmittedAt:     r.SubmittedAt,
		CriticalAnswers: s.criticalAnswers(r.Answers, r.Questions),
		Resolution:      resolution,
	}
}

// criticalAnswers lists answers at or below the threshold with their prompt.
// A snapshot shorter than the answer list yields an empty prompt.
func (s *AlertService) criticalAnswers(answers models.AnswerList, questions models.QuestionList) []models.CriticalAnswer {
	out := make([]models.CriticalAnswer, 0)
	for i, a := range answers {
		if float64(a) <= s.threshold {
			out = append(out, models.CriticalAnswer{Index: i, Question: questions.Prompt(i), Answer: a})
		}
	}
	return out
}
