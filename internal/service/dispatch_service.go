package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/pkg/delivery"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/events"
)

type dispatchStore interface {
	Create(ctx context.Context, d *models.Dispatch) error
	FindByID(ctx context.Context, id string) (*models.Dispatch, error)
	List(ctx context.Context, filter models.DispatchFilter) ([]models.Dispatch, int, error)
	Transition(ctx context.Context, id string, event models.DispatchEvent, at time.Time) (bool, error)
	MarkError(ctx context.Context, id, reason string) error
}

type questionnaireReader interface {
	FindByID(ctx context.Context, ownerID, id string) (*models.Questionnaire, error)
}

type questionnaireSender interface {
	Send(ctx context.Context, req delivery.SendRequest) error
}

type linkIssuer interface {
	Generate(dispatchID, ownerID string) (string, time.Time, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

type ownerCache interface {
	InvalidateOwner(ctx context.Context, ownerID string)
}

const reasonRecordFailed = "the dispatch record could not be saved"

// DispatchServiceConfig bounds batches and builds patient links.
type DispatchServiceConfig struct {
	MaxRecipients    int
	DefaultDelayDays int
	LinkBaseURL      string
}

// DispatchService turns a questionnaire and a recipient block into dispatch
// records, sending immediately or leaving them for the sweeper.
type DispatchService struct {
	dispatches     dispatchStore
	questionnaires questionnaireReader
	sender         questionnaireSender
	links          linkIssuer
	events         eventPublisher
	cache          ownerCache
	metrics        *MetricsService
	validator      *validator.Validate
	logger         *zap.Logger
	cfg            DispatchServiceConfig
	now            func() time.Time
}

// NewDispatchService constructs the scheduler.
func NewDispatchService(dispatches dispatchStore, questionnaires questionnaireReader, sender questionnaireSender, links linkIssuer, publisher eventPublisher, cache ownerCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg DispatchServiceConfig) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = 200
	}
	if cfg.DefaultDelayDays <= 0 {
		cfg.DefaultDelayDays = 7
	}
	return &DispatchService{
		dispatches:     dispatches,
		questionnaires: questionnaires,
		sender:         sender,
		links:          links,
		events:         publisher,
		cache:          cache,
		metrics:        metrics,
		validator:      validate,
		logger:         logger,
		cfg:            cfg,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch validates the whole request before writing anything, then
// processes each recipient independently and in submission order. Partial
// failure is reported in the result, never returned as an error.
func (s *DispatchService) CreateBatch(ctx context.Context, ownerID string, req dto.CreateDispatchRequest) (*dto.DispatchBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dispatch payload")
	}

	questionnaire, err := s.questionnaires.FindByID(ctx, ownerID, req.QuestionnaireID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "questionnaire not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load questionnaire")
	}
	if strings.TrimSpace(questionnaire.Title) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "questionnaire has no title")
	}
	if len(questionnaire.Questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "questionnaire has no questions")
	}

	recipients := ParseRecipients(req.Recipients)
	if !recipients.Empty && len(recipients.Valid) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no valid recipient address (%d invalid)", len(recipients.Invalid)))
	}
	if len(recipients.Valid) > s.cfg.MaxRecipients {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("a batch accepts at most %d recipients", s.cfg.MaxRecipients))
	}

	if recipients.Empty {
		return s.createGeneric(ctx, ownerID, questionnaire)
	}

	delay := s.resolveDelay(req.DelayDays, questionnaire.DefaultDelayDays)
	if req.SendImmediately {
		delay = 0
	}

	result := &dto.DispatchBatchResult{
		BatchSize:         len(recipients.Valid),
		Outcomes:          make([]dto.RecipientOutcome, 0, len(recipients.Valid)),
		InvalidRecipients: recipients.Invalid,
		DelayDays:         delay,
	}
	// once started the batch runs over every recipient even if the caller goes away
	batchCtx := context.WithoutCancel(ctx)
	for _, recipient := range recipients.Valid {
		outcome := s.dispatchOne(batchCtx, ownerID, questionnaire, recipient, req.SendImmediately, delay)
		if outcome.Succeeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	s.invalidate(batchCtx, ownerID)
	s.logger.Sugar().Infow("dispatch batch processed",
		"owner_id", ownerID,
		"questionnaire_id", questionnaire.ID,
		"batch_size", result.BatchSize,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"immediate", req.SendImmediately,
	)
	return result, nil
}

func (s *DispatchService) dispatchOne(ctx context.Context, ownerID string, q *models.Questionnaire, recipient string, immediate bool, delay int) dto.RecipientOutcome {
	now := s.now()
	email := recipient
	delayDays := delay
	record := &models.Dispatch{
		OwnerID:         ownerID,
		QuestionnaireID: q.ID,
		Title:           q.Title,
		Pathology:       q.Pathology,
		Questions:       q.Questions,
		RecipientEmail:  &email,
		DelayDays:       &delayDays,
		SendImmediately: immediate,
		Status:          models.InitialStatus(true, immediate),
		CreatedAt:       now,
	}
	if immediate {
		record.SentAt = &now
	}

	outcome := dto.RecipientOutcome{Recipient: recipient, Status: record.Status}
	if err := s.dispatches.Create(ctx, record); err != nil {
		s.logger.Sugar().Warnw("dispatch record creation failed", "owner_id", ownerID, "recipient", recipient, "error", err)
		s.metrics.RecordDispatch(record.Status, false)
		outcome.Status = ""
		outcome.Error = reasonRecordFailed
		return outcome
	}
	outcome.DispatchID = record.ID

	if !immediate {
		s.metrics.RecordDispatch(record.Status, true)
		outcome.Succeeded = true
		return outcome
	}

	if err := s.send(ctx, record); err != nil {
		reason := delivery.Reason(err)
		if markErr := s.dispatches.MarkError(ctx, record.ID, reason); markErr != nil {
			s.logger.Sugar().Warnw("failed to record delivery error", "dispatch_id", record.ID, "error", markErr)
		}
		s.metrics.RecordDispatch(record.Status, false)
		outcome.Error = reason
		return outcome
	}

	s.metrics.RecordDispatch(record.Status, true)
	s.publish(ctx, events.Event{Type: events.TypeDispatchSent, OwnerID: ownerID, DispatchID: record.ID, OccurredAt: now})
	outcome.Succeeded = true
	return outcome
}

// send issues the provider request for d, attaching a signed link when possible.
func (s *DispatchService) send(ctx context.Context, d *models.Dispatch) error {
	return sendDispatch(ctx, s.sender, s.links, s.cfg.LinkBaseURL, s.metrics, s.logger, d)
}

func sendDispatch(ctx context.Context, sender questionnaireSender, links linkIssuer, baseURL string, metrics *MetricsService, logger *zap.Logger, d *models.Dispatch) error {
	if sender == nil {
		return errors.New("delivery client not configured")
	}
	req := delivery.SendRequest{
		PatientEmail:    d.Recipient(),
		QuestionnaireID: d.QuestionnaireID,
		SendDelayDays:   d.EffectiveDelayDays(),
	}
	if links != nil {
		if token, _, err := links.Generate(d.ID, d.OwnerID); err == nil {
			req.Link = linkURL(baseURL, token)
		} else {
			logger.Sugar().Warnw("failed to sign patient link", "dispatch_id", d.ID, "error", err)
		}
	}
	start := time.Now()
	err := sender.Send(ctx, req)
	metrics.ObserveDelivery(time.Since(start), err == nil)
	return err
}

func (s *DispatchService) createGeneric(ctx context.Context, ownerID string, q *models.Questionnaire) (*dto.DispatchBatchResult, error) {
	now := s.now()
	record := &models.Dispatch{
		OwnerID:         ownerID,
		QuestionnaireID: q.ID,
		Title:           q.Title,
		Pathology:       q.Pathology,
		Questions:       q.Questions,
		Status:          models.InitialStatus(false, false),
		CreatedAt:       now,
	}
	if err := s.dispatches.Create(ctx, record); err != nil {
		s.metrics.RecordDispatch(record.Status, false)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create generic link")
	}
	s.metrics.RecordDispatch(record.Status, true)

	view := describe(*record, now)
	result := &dto.DispatchBatchResult{
		BatchSize:   1,
		Succeeded:   1,
		Outcomes:    []dto.RecipientOutcome{{DispatchID: record.ID, Status: record.Status, Succeeded: true}},
		GenericLink: &view,
	}
	if link, err := s.signLink(record); err == nil {
		result.Link = link
	} else {
		s.logger.Sugar().Warnw("failed to sign generic link", "dispatch_id", record.ID, "error", err)
	}
	s.invalidate(ctx, ownerID)
	return result, nil
}

// resolveDelay picks the request value, then the questionnaire default, then
// the configured default, and clamps the result.
func (s *DispatchService) resolveDelay(requested, questionnaireDefault *int) int {
	switch {
	case requested != nil:
		return models.ClampDelayDays(*requested)
	case questionnaireDefault != nil:
		return models.ClampDelayDays(*questionnaireDefault)
	default:
		return models.ClampDelayDays(s.cfg.DefaultDelayDays)
	}
}

// List returns the owner's dispatch history with derived status views.
func (s *DispatchService) List(ctx context.Context, ownerID string, query dto.DispatchListQuery) ([]dto.DispatchView, *models.Pagination, error) {
	filter := models.DispatchFilter{
		OwnerID:      ownerID,
		HasRecipient: query.HasRecipient,
		Recipient:    strings.TrimSpace(query.Recipient),
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	if query.Status != "" {
		status := models.DispatchStatus(query.Status)
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown dispatch status")
		}
		filter.Status = &status
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	items, total, err := s.dispatches.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list dispatches")
	}
	now := s.now()
	views := make([]dto.DispatchView, 0, len(items))
	for _, item := range items {
		views = append(views, describe(item, now))
	}
	return views, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one owned dispatch.
func (s *DispatchService) Get(ctx context.Context, ownerID, id string) (*dto.DispatchView, error) {
	d, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	view := describe(*d, s.now())
	return &view, nil
}

// IssueLink signs a patient link for a dispatch that still accepts a response.
func (s *DispatchService) IssueLink(ctx context.Context, ownerID, id string) (*dto.DispatchLinkResponse, error) {
	d, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Accepts(models.DispatchEventRespond) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "dispatch no longer accepts responses")
	}
	link, err := s.signLink(d)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign link")
	}
	return link, nil
}

func (s *DispatchService) signLink(d *models.Dispatch) (*dto.DispatchLinkResponse, error) {
	if s.links == nil {
		return nil, errors.New("link signer not configured")
	}
	token, expires, err := s.links.Generate(d.ID, d.OwnerID)
	if err != nil {
		return nil, err
	}
	return &dto.DispatchLinkResponse{DispatchID: d.ID, Token: token, URL: linkURL(s.cfg.LinkBaseURL, token), ExpiresAt: expires}, nil
}

func (s *DispatchService) owned(ctx context.Context, ownerID, id string) (*models.Dispatch, error) {
	d, err := s.dispatches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "dispatch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dispatch")
	}
	if d.OwnerID != ownerID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "dispatch not found")
	}
	return d, nil
}

func (s *DispatchService) publish(ctx context.Context, evt events.Event) {
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Sugar().Warnw("event publish failed", "type", evt.Type, "error", err)
	}
}

func (s *DispatchService) invalidate(ctx context.Context, ownerID string) {
	if s.cache != nil {
		s.cache.InvalidateOwner(ctx, ownerID)
	}
}

func describe(d models.Dispatch, now time.Time) dto.DispatchView {
	return dto.DispatchView{Dispatch: d, View: models.DescribeDispatch(d, now)}
}

func linkURL(base, token string) string {
	if base == "" {
		return token
	}
	return strings.TrimRight(base, "/") + "/" + token
}
