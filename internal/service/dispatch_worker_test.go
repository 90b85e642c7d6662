package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/pkg/delivery"
	"github.com/noah-isme/followup-api/pkg/events"
	"github.com/noah-isme/followup-api/pkg/jobs"
)

func (s *stubDispatchStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispatch
	for _, id := range s.order {
		d := s.records[id]
		fire, ok := d.FireAt()
		if _, gone := s.abandoned[id]; gone {
			continue
		}
		if d.Status == models.DispatchStatusScheduled && ok && !fire.After(now) && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubDispatchStore) ListExpirable(_ context.Context, cutoff time.Time, limit int) ([]models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispatch
	for _, id := range s.order {
		d := s.records[id]
		fire, ok := d.FireAt()
		if (d.Status == models.DispatchStatusScheduled || d.Status == models.DispatchStatusSent) && ok && !fire.After(cutoff) && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *stubDispatchStore) AbandonFire(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.records[id]; ok && d.Status == models.DispatchStatusScheduled {
		s.abandoned[id] = at
	}
	return nil
}

func (s *stubDispatchStore) isAbandoned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.abandoned[id]
	return ok
}

func (s *stubDispatchStore) seed(d models.Dispatch) string {
	_ = s.Create(context.Background(), &d)
	return d.ID
}

type stubQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *stubQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func scheduledDispatch(email string, createdDaysAgo, delay int, now time.Time) models.Dispatch {
	return models.Dispatch{
		OwnerID:         "owner-1",
		QuestionnaireID: "q-1",
		Title:           "Suivi genou",
		RecipientEmail:  &email,
		DelayDays:       &delay,
		Status:          models.DispatchStatusScheduled,
		CreatedAt:       now.AddDate(0, 0, -createdDaysAgo),
	}
}

type workerFixture struct {
	worker    *DispatchWorker
	store     *stubDispatchStore
	sender    *stubSender
	queue     *stubQueue
	publisher *recordingPublisher
	cache     *recordingCache
}

func newWorkerFixture() *workerFixture {
	f := &workerFixture{
		store:     newStubDispatchStore(),
		sender:    &stubSender{},
		queue:     &stubQueue{},
		publisher: &recordingPublisher{},
		cache:     &recordingCache{},
	}
	f.worker = NewDispatchWorker(f.store, f.sender, stubLinks{}, f.publisher, f.cache, nil, nil, DispatchWorkerConfig{RetentionDays: 30})
	f.worker.now = func() time.Time { return fixedNow }
	f.worker.AttachQueue(f.queue)
	return f
}

func TestSweepEnqueuesOnlyDueDispatches(t *testing.T) {
	f := newWorkerFixture()
	due := f.store.seed(scheduledDispatch("due@x.com", 8, 7, fixedNow))
	f.store.seed(scheduledDispatch("later@x.com", 1, 7, fixedNow))
	generic := models.Dispatch{OwnerID: "owner-1", Status: models.DispatchStatusPending, CreatedAt: fixedNow.AddDate(0, 0, -60)}
	f.store.seed(generic)

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Enqueued)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, due, f.queue.jobs[0].ID)
	assert.Equal(t, JobTypeDispatchFire, f.queue.jobs[0].Type)
}

func TestSweepToleratesDuplicateJobs(t *testing.T) {
	f := newWorkerFixture()
	f.store.seed(scheduledDispatch("due@x.com", 8, 7, fixedNow))
	f.queue.err = jobs.ErrDuplicate

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 0, res.Enqueued)
}

func TestSweepExpiresStaleDispatches(t *testing.T) {
	f := newWorkerFixture()
	f.queue.err = jobs.ErrDuplicate
	stale := scheduledDispatch("old@x.com", 40, 7, fixedNow)
	stale.Status = models.DispatchStatusSent
	staleID := f.store.seed(stale)
	recentID := f.store.seed(scheduledDispatch("recent@x.com", 20, 7, fixedNow))

	res, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, models.DispatchStatusExpired, f.store.status(staleID))
	assert.Equal(t, models.DispatchStatusScheduled, f.store.status(recentID))
	assert.Contains(t, f.cache.owners, "owner-1")
}

func TestSweepRequiresQueue(t *testing.T) {
	w := NewDispatchWorker(newStubDispatchStore(), nil, nil, nil, nil, nil, nil, DispatchWorkerConfig{})
	_, err := w.Sweep(context.Background())
	assert.Error(t, err)
}

func TestHandleFiresScheduledDispatchOnce(t *testing.T) {
	f := newWorkerFixture()
	id := f.store.seed(scheduledDispatch("due@x.com", 8, 7, fixedNow))

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: id, Type: JobTypeDispatchFire}))
	assert.Equal(t, models.DispatchStatusSent, f.store.status(id))
	calls := f.sender.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, "due@x.com", calls[0].PatientEmail)
	assert.Equal(t, 7, calls[0].SendDelayDays)
	assert.Equal(t, []events.Type{events.TypeDispatchSent}, f.publisher.types())

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: id, Type: JobTypeDispatchFire}))
	assert.Len(t, f.sender.sent(), 1)
}

func TestHandleKeepsScheduledOnDeliveryFailure(t *testing.T) {
	f := newWorkerFixture()
	id := f.store.seed(scheduledDispatch("due@x.com", 8, 7, fixedNow))
	f.sender.fail = map[string]error{"due@x.com": &delivery.Error{StatusCode: 503, Reason: "provider overloaded"}}

	err := f.worker.Handle(context.Background(), jobs.Job{ID: id})
	require.Error(t, err)
	assert.Equal(t, models.DispatchStatusScheduled, f.store.status(id))
	assert.Equal(t, "provider overloaded", f.store.errors[id])
	assert.Empty(t, f.publisher.types())
}

func TestHandleIgnoresMissingDispatch(t *testing.T) {
	f := newWorkerFixture()
	assert.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: "gone"}))
}

func TestWorkerWithQueueFiresDueDispatch(t *testing.T) {
	f := newWorkerFixture()
	id := f.store.seed(scheduledDispatch("due@x.com", 8, 7, fixedNow))

	queue := jobs.NewQueue("dispatch", f.worker.Handle, jobs.QueueConfig{Workers: 2, RetryDelay: time.Millisecond, OnGiveUp: f.worker.OnGiveUp})
	queue.Start(context.Background())
	defer queue.Stop()
	f.worker.AttachQueue(queue)

	_, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.store.status(id) == models.DispatchStatusSent
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return queue.InFlight() == 0 }, time.Second, 5*time.Millisecond)
}

func TestOnGiveUpDoesNotPanicWithoutMetrics(t *testing.T) {
	f := newWorkerFixture()
	f.worker.OnGiveUp(jobs.Job{ID: "d-1", Attempt: 4}, errors.New("provider down"))
}

func TestSweepStopsOfferingAbandonedDispatch(t *testing.T) {
	f := newWorkerFixture()
	id := f.store.seed(scheduledDispatch("down@x.com", 8, 7, fixedNow))
	f.sender.fail = map[string]error{"down@x.com": &delivery.Error{StatusCode: 503, Reason: "provider down"}}

	queue := jobs.NewQueue("dispatch", f.worker.Handle, jobs.QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond, OnGiveUp: f.worker.OnGiveUp})
	queue.Start(context.Background())
	defer queue.Stop()
	f.worker.AttachQueue(queue)

	_, err := f.worker.Sweep(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.store.isAbandoned(id) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return queue.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	attempts := len(f.sender.sent())
	assert.Equal(t, 2, attempts)

	for i := 0; i < 5; i++ {
		res, err := f.worker.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Due)
	}
	assert.Len(t, f.sender.sent(), attempts)
	assert.Equal(t, models.DispatchStatusScheduled, f.store.status(id))
	assert.Equal(t, "provider down", f.store.errors[id])
}
