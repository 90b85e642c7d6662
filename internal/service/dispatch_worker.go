package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/pkg/delivery"
	"github.com/noah-isme/followup-api/pkg/events"
	"github.com/noah-isme/followup-api/pkg/jobs"
)

// JobTypeDispatchFire is the queue job that sends one scheduled dispatch.
const JobTypeDispatchFire = "dispatch.fire"

type sweepStore interface {
	FindByID(ctx context.Context, id string) (*models.Dispatch, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Dispatch, error)
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Dispatch, error)
	Transition(ctx context.Context, id string, event models.DispatchEvent, at time.Time) (bool, error)
	MarkError(ctx context.Context, id, reason string) error
	AbandonFire(ctx context.Context, id string, at time.Time) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DispatchWorkerConfig tunes the sweeper.
type DispatchWorkerConfig struct {
	SweepInterval time.Duration
	BatchSize     int
	RetentionDays int
	LinkBaseURL   string
}

// SweepResult summarises one sweeper pass.
type SweepResult struct {
	Due      int
	Enqueued int
	Expired  int
}

// DispatchWorker fires scheduled dispatches once their delay has elapsed and
// expires unanswered ones after the retention window. Every pass re-reads due
// work from storage so nothing is lost across restarts.
type DispatchWorker struct {
	store   sweepStore
	sender  questionnaireSender
	links   linkIssuer
	events  eventPublisher
	cache   ownerCache
	metrics *MetricsService
	queue   jobEnqueuer
	logger  *zap.Logger
	cfg     DispatchWorkerConfig
	now     func() time.Time
}

// NewDispatchWorker constructs the worker. The queue is attached afterwards
// because the queue needs the worker's Handle as its handler.
func NewDispatchWorker(store sweepStore, sender questionnaireSender, links linkIssuer, publisher eventPublisher, cache ownerCache, metrics *MetricsService, logger *zap.Logger, cfg DispatchWorkerConfig) *DispatchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &DispatchWorker{
		store:   store,
		sender:  sender,
		links:   links,
		events:  publisher,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AttachQueue sets the queue fire jobs are pushed to.
func (w *DispatchWorker) AttachQueue(q jobEnqueuer) {
	w.queue = q
}

// StartSweeper runs Sweep on every tick until ctx is cancelled.
func (w *DispatchWorker) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Sweep(ctx); err != nil {
					w.logger.Sugar().Warnw("dispatch sweep failed", "error", err)
				}
			}
		}
	}()
}

// Sweep enqueues a fire job per due dispatch and expires stale ones.
func (w *DispatchWorker) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if w.queue == nil {
		return result, errors.New("dispatch queue not attached")
	}
	now := w.now()

	due, err := w.store.ListDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list due dispatches: %w", err)
	}
	result.Due = len(due)
	w.metrics.SetSweepBacklog(len(due))
	for _, d := range due {
		err := w.queue.Enqueue(jobs.Job{ID: d.ID, Type: JobTypeDispatchFire})
		switch {
		case err == nil:
			result.Enqueued++
		case errors.Is(err, jobs.ErrDuplicate):
		default:
			w.logger.Sugar().Warnw("failed to enqueue dispatch", "dispatch_id", d.ID, "error", err)
		}
	}

	cutoff := now.AddDate(0, 0, -w.cfg.RetentionDays)
	stale, err := w.store.ListExpirable(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list expirable dispatches: %w", err)
	}
	for _, d := range stale {
		ok, err := w.store.Transition(ctx, d.ID, models.DispatchEventExpire, now)
		if err != nil {
			w.logger.Sugar().Warnw("failed to expire dispatch", "dispatch_id", d.ID, "error", err)
			continue
		}
		if ok {
			result.Expired++
			w.metrics.RecordDispatch(models.DispatchStatusExpired, true)
			w.invalidate(ctx, d.OwnerID)
		}
	}

	if result.Due > 0 || result.Expired > 0 {
		w.logger.Sugar().Infow("dispatch sweep", "due", result.Due, "enqueued", result.Enqueued, "expired", result.Expired)
	}
	return result, nil
}

// Handle fires one scheduled dispatch. A returned error makes the queue retry.
func (w *DispatchWorker) Handle(ctx context.Context, job jobs.Job) error {
	d, err := w.store.FindByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load dispatch %s: %w", job.ID, err)
	}
	if !d.Status.Accepts(models.DispatchEventFire) {
		return nil
	}

	if err := sendDispatch(ctx, w.sender, w.links, w.cfg.LinkBaseURL, w.metrics, w.logger, d); err != nil {
		if markErr := w.store.MarkError(ctx, d.ID, delivery.Reason(err)); markErr != nil {
			w.logger.Sugar().Warnw("failed to record delivery error", "dispatch_id", d.ID, "error", markErr)
		}
		return err
	}

	now := w.now()
	ok, err := w.store.Transition(ctx, d.ID, models.DispatchEventFire, now)
	if err != nil {
		return fmt.Errorf("mark dispatch sent: %w", err)
	}
	if !ok {
		w.logger.Sugar().Infow("dispatch changed before fire completed", "dispatch_id", d.ID)
		return nil
	}
	w.metrics.RecordDispatch(models.DispatchStatusSent, true)
	if err := w.events.Publish(ctx, events.Event{Type: events.TypeDispatchSent, OwnerID: d.OwnerID, DispatchID: d.ID, OccurredAt: now}); err != nil {
		w.logger.Sugar().Warnw("event publish failed", "type", events.TypeDispatchSent, "error", err)
	}
	w.invalidate(ctx, d.OwnerID)
	return nil
}

// OnGiveUp is called by the queue once a fire job exhausted its retries. The
// record stays scheduled with its last error but is no longer offered by the
// sweeper; resending is left to the practitioner.
func (w *DispatchWorker) OnGiveUp(job jobs.Job, err error) {
	w.metrics.RecordDispatch(models.DispatchStatusScheduled, false)
	w.logger.Sugar().Errorw("dispatch fire abandoned", "dispatch_id", job.ID, "attempts", job.Attempt, "error", err)
	if abandonErr := w.store.AbandonFire(context.Background(), job.ID, w.now()); abandonErr != nil {
		w.logger.Sugar().Warnw("failed to mark dispatch abandoned", "dispatch_id", job.ID, "error", abandonErr)
	}
}

func (w *DispatchWorker) invalidate(ctx context.Context, ownerID string) {
	if w.cache != nil {
		w.cache.InvalidateOwner(ctx, ownerID)
	}
}
