package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/pkg/delivery"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/events"
)

type stubDispatchStore struct {
	mu        sync.Mutex
	records   map[string]*models.Dispatch
	order     []string
	createErr map[string]error
	errors    map[string]string
	seq       int
	abandoned map[string]time.Time
	afterSave func(ctx context.Context)
}

func newStubDispatchStore() *stubDispatchStore {
	return &stubDispatchStore{records: map[string]*models.Dispatch{}, createErr: map[string]error{}, errors: map[string]string{}, abandoned: map[string]time.Time{}}
}

func (s *stubDispatchStore) Create(ctx context.Context, d *models.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.createErr[d.Recipient()]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq++
	d.ID = fmt.Sprintf("d-%d", s.seq)
	cp := *d
	s.records[d.ID] = &cp
	s.order = append(s.order, d.ID)
	hook := s.afterSave
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return nil
}

func (s *stubDispatchStore) FindByID(_ context.Context, id string) (*models.Dispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (s *stubDispatchStore) List(_ context.Context, filter models.DispatchFilter) ([]models.Dispatch, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispatch
	for _, id := range s.order {
		d := s.records[id]
		if d.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		out = append(out, *d)
	}
	return out, len(out), nil
}

func (s *stubDispatchStore) Transition(_ context.Context, id string, event models.DispatchEvent, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.records[id]
	if !ok {
		return false, nil
	}
	next, err := models.Transition(d.Status, event)
	if err != nil {
		return false, nil
	}
	d.Status = next
	switch event {
	case models.DispatchEventFire:
		d.SentAt = &at
		d.LastError = nil
	case models.DispatchEventRespond:
		d.CompletedAt = &at
	case models.DispatchEventExpire:
		d.ExpiredAt = &at
	}
	return true, nil
}

func (s *stubDispatchStore) MarkError(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[id] = reason
	if d, ok := s.records[id]; ok {
		r := reason
		d.LastError = &r
	}
	return nil
}

func (s *stubDispatchStore) status(id string) models.DispatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

type stubQuestionnaires struct {
	items map[string]*models.Questionnaire
}

func (s *stubQuestionnaires) FindByID(_ context.Context, ownerID, id string) (*models.Questionnaire, error) {
	q, ok := s.items[id]
	if !ok || q.OwnerID != ownerID {
		return nil, sql.ErrNoRows
	}
	return q, nil
}

type stubSender struct {
	mu    sync.Mutex
	calls []delivery.SendRequest
	fail  map[string]error
}

func (s *stubSender) Send(_ context.Context, req delivery.SendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.fail != nil {
		return s.fail[req.PatientEmail]
	}
	return nil
}

func (s *stubSender) sent() []delivery.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.SendRequest(nil), s.calls...)
}

type stubLinks struct{}

func (stubLinks) Generate(dispatchID, ownerID string) (string, time.Time, error) {
	return "tok-" + dispatchID, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingCache struct {
	mu     sync.Mutex
	owners []string
}

func (c *recordingCache) InvalidateOwner(_ context.Context, ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners = append(c.owners, ownerID)
}

var fixedNow = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

func intRef(v int) *int { return &v }

type dispatchFixture struct {
	svc       *DispatchService
	store     *stubDispatchStore
	sender    *stubSender
	publisher *recordingPublisher
	cache     *recordingCache
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	questionnaires := &stubQuestionnaires{items: map[string]*models.Questionnaire{
		"q-1": {ID: "q-1", OwnerID: "owner-1", Title: "Suivi genou", Pathology: "genou",
			Questions: models.QuestionList{{Text: "Douleur ?"}, {Text: "Mobilité ?"}}},
		"q-default": {ID: "q-default", OwnerID: "owner-1", Title: "Suivi épaule",
			Questions: models.QuestionList{{Text: "Douleur ?"}}, DefaultDelayDays: intRef(21)},
		"q-empty": {ID: "q-empty", OwnerID: "owner-1", Title: "Vide"},
		"q-untitled": {ID: "q-untitled", OwnerID: "owner-1", Title: "  ",
			Questions: models.QuestionList{{Text: "Douleur ?"}}},
	}}
	f := &dispatchFixture{
		store:     newStubDispatchStore(),
		sender:    &stubSender{},
		publisher: &recordingPublisher{},
		cache:     &recordingCache{},
	}
	f.svc = NewDispatchService(f.store, questionnaires, f.sender, stubLinks{}, f.publisher, f.cache, nil, nil, nil,
		DispatchServiceConfig{MaxRecipients: 3, LinkBaseURL: "https://forms.example/q/"})
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func TestCreateBatchDelayedSchedulesWithoutSending(t *testing.T) {
	f := newDispatchFixture(t)

	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{
		QuestionnaireID: "q-1",
		Recipients:      "c@x.com, a@x.com; b@x.com",
		DelayDays:       intRef(14),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.BatchSize)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 14, res.DelayDays)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, "c@x.com", res.Outcomes[0].Recipient)
	assert.Equal(t, "a@x.com", res.Outcomes[1].Recipient)
	assert.Equal(t, "b@x.com", res.Outcomes[2].Recipient)
	for _, o := range res.Outcomes {
		assert.Equal(t, models.DispatchStatusScheduled, o.Status)
		stored, _ := f.store.FindByID(context.Background(), o.DispatchID)
		assert.Equal(t, 14, *stored.DelayDays)
		assert.Equal(t, "Suivi genou", stored.Title)
		assert.Len(t, stored.Questions, 2)
	}
	assert.Empty(t, f.sender.sent())
	assert.Equal(t, []string{"owner-1"}, f.cache.owners)
}

func TestCreateBatchImmediateIsolatesDeliveryFailures(t *testing.T) {
	f := newDispatchFixture(t)
	f.sender.fail = map[string]error{"b@x.com": &delivery.Error{StatusCode: 422, Reason: "mailbox unavailable"}}

	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{
		QuestionnaireID: "q-1",
		Recipients:      "a@x.com b@x.com c@x.com",
		SendImmediately: true,
		DelayDays:       intRef(30),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.DelayDays)
	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[1].Succeeded)
	assert.Equal(t, "mailbox unavailable", res.Outcomes[1].Error)

	failedID := res.Outcomes[1].DispatchID
	assert.Equal(t, models.DispatchStatusSent, f.store.status(failedID))
	assert.Equal(t, "mailbox unavailable", f.store.errors[failedID])

	calls := f.sender.sent()
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, 0, c.SendDelayDays)
		assert.Equal(t, "q-1", c.QuestionnaireID)
		assert.Contains(t, c.Link, "https://forms.example/q/tok-")
	}
	assert.Equal(t, []events.Type{events.TypeDispatchSent, events.TypeDispatchSent}, f.publisher.types())
}

func TestCreateBatchRecordFailureSkipsDelivery(t *testing.T) {
	f := newDispatchFixture(t)
	f.store.createErr["b@x.com"] = errors.New("connection reset")

	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{
		QuestionnaireID: "q-1",
		Recipients:      "a@x.com b@x.com",
		SendImmediately: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, res.Outcomes[1].DispatchID)
	assert.Equal(t, reasonRecordFailed, res.Outcomes[1].Error)
	assert.NotContains(t, res.Outcomes[1].Error, "connection reset")
	require.Len(t, f.sender.sent(), 1)
	assert.Equal(t, "a@x.com", f.sender.sent()[0].PatientEmail)
}

func TestCreateBatchEmptyRecipientsCreatesGenericLink(t *testing.T) {
	f := newDispatchFixture(t)

	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: " \n "})
	require.NoError(t, err)

	require.NotNil(t, res.GenericLink)
	assert.Equal(t, models.DispatchStatusPending, res.GenericLink.Status)
	assert.Nil(t, res.GenericLink.RecipientEmail)
	assert.Nil(t, res.GenericLink.DelayDays)
	assert.Equal(t, "En attente", res.GenericLink.View.Label)
	require.NotNil(t, res.Link)
	assert.Equal(t, "https://forms.example/q/tok-"+res.GenericLink.ID, res.Link.URL)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, f.sender.sent())
}

func TestCreateBatchRejectsFullyInvalidRecipients(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "foo, bar@"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.store.order)
}

func TestCreateBatchRejectsOversizedBatch(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com b@x.com c@x.com d@x.com"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.store.order)
}

func TestCreateBatchKeepsInvalidTokensForFeedback(t *testing.T) {
	f := newDispatchFixture(t)

	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, res.InvalidRecipients)
	assert.Equal(t, 1, res.BatchSize)
}

func TestCreateBatchDelayResolution(t *testing.T) {
	cases := []struct {
		name          string
		questionnaire string
		requested     *int
		want          int
	}{
		{"clamps high", "q-1", intRef(200), 90},
		{"clamps low", "q-1", intRef(0), 1},
		{"questionnaire default", "q-default", nil, 21},
		{"config default", "q-1", nil, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatchFixture(t)
			res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{
				QuestionnaireID: tc.questionnaire,
				Recipients:      "a@x.com",
				DelayDays:       tc.requested,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.DelayDays)
		})
	}
}

func TestCreateBatchValidatesQuestionnaire(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBatch(ctx, "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "missing", Recipients: "a@x.com"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	_, err = f.svc.CreateBatch(ctx, "owner-2", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	_, err = f.svc.CreateBatch(ctx, "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-empty", Recipients: "a@x.com"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.CreateBatch(ctx, "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-untitled", Recipients: "a@x.com"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.CreateBatch(ctx, "owner-1", dto.CreateDispatchRequest{Recipients: "a@x.com"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.store.order)
}

func TestCreateBatchRunsToCompletionWhenCallerCancels(t *testing.T) {
	f := newDispatchFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.afterSave = func(context.Context) { cancel() }

	res, err := f.svc.CreateBatch(ctx, "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com b@x.com c@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Len(t, f.store.order, 3)
	require.Error(t, ctx.Err())
}

func TestDispatchGetAndListAreOwnerScoped(t *testing.T) {
	f := newDispatchFixture(t)
	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com", DelayDays: intRef(14)})
	require.NoError(t, err)
	id := res.Outcomes[0].DispatchID

	view, err := f.svc.Get(context.Background(), "owner-1", id)
	require.NoError(t, err)
	assert.Equal(t, "Programmé", view.View.Label)
	require.NotNil(t, view.View.DaysRemaining)
	assert.Equal(t, 14, *view.View.DaysRemaining)

	_, err = f.svc.Get(context.Background(), "owner-2", id)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	items, pagination, err := f.svc.List(context.Background(), "owner-1", dto.DispatchListQuery{Status: "scheduled"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)

	_, _, err = f.svc.List(context.Background(), "owner-1", dto.DispatchListQuery{Status: "archived"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestIssueLinkRejectsTerminalDispatch(t *testing.T) {
	f := newDispatchFixture(t)
	res, err := f.svc.CreateBatch(context.Background(), "owner-1", dto.CreateDispatchRequest{QuestionnaireID: "q-1", Recipients: "a@x.com"})
	require.NoError(t, err)
	id := res.Outcomes[0].DispatchID

	link, err := f.svc.IssueLink(context.Background(), "owner-1", id)
	require.NoError(t, err)
	assert.Equal(t, "tok-"+id, link.Token)

	_, err = f.store.Transition(context.Background(), id, models.DispatchEventRespond, fixedNow)
	require.NoError(t, err)
	_, err = f.svc.IssueLink(context.Background(), "owner-1", id)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidTransition.Code))
}
