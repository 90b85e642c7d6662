package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var dispatchRowColumns = []string{"id", "owner_id", "questionnaire_id", "title", "pathology", "questions", "recipient_email", "delay_days", "send_immediately", "status", "created_at", "sent_at", "completed_at", "expired_at", "last_error"}

func dispatchRows() *sqlmock.Rows {
	return sqlmock.NewRows(dispatchRowColumns)
}

func TestDispatchRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dispatches")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	email := "a@x.com"
	delay := 14
	d := &models.Dispatch{OwnerID: "owner-1", QuestionnaireID: "q-1", Title: "Suivi", RecipientEmail: &email, DelayDays: &delay, Status: models.DispatchStatusScheduled}
	require.NoError(t, repo.Create(context.Background(), d))
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM dispatches WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryTransitionIsConditional(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	update := regexp.QuoteMeta("UPDATE dispatches SET status = $1, sent_at = $2, last_error = NULL WHERE id = $3 AND status = ANY($4)")
	mock.ExpectExec(update).
		WithArgs(models.DispatchStatusSent, now, "d-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).
		WithArgs(models.DispatchStatusSent, now, "d-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), "d-1", models.DispatchEventFire, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(context.Background(), "d-1", models.DispatchEventFire, now)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryTransitionExpire(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dispatches SET status = $1, expired_at = $2 WHERE id = $3 AND status = ANY($4)")).
		WithArgs(models.DispatchStatusExpired, now, "d-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Transition(context.Background(), "d-2", models.DispatchEventExpire, now)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryListDue(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)
	now := time.Now().UTC()
	created := now.AddDate(0, 0, -8)

	rows := dispatchRows().
		AddRow("d-1", "owner-1", "q-1", "Suivi genou", "genou", []byte(`[{"text":"Douleur ?"}]`), "a@x.com", 7, false, "scheduled", created, nil, nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM dispatches WHERE status = 'scheduled' AND recipient_email IS NOT NULL AND created_at + make_interval(days => COALESCE(delay_days, 0)) <= $1 AND fire_abandoned_at IS NULL")).
		WithArgs(now, 100).
		WillReturnRows(rows)

	items, err := repo.ListDue(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a@x.com", items[0].Recipient())
	assert.Equal(t, 7, *items[0].DelayDays)
	assert.Equal(t, "Douleur ?", items[0].Questions.Prompt(0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryAbandonFire(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE dispatches SET fire_abandoned_at = $1 WHERE id = $2 AND status = 'scheduled'")).
		WithArgs(now, "d-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AbandonFire(context.Background(), "d-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)

	status := models.DispatchStatusSent
	hasRecipient := true
	rows := dispatchRows().
		AddRow("d-1", "owner-1", "q-1", "Suivi", "genou", []byte(`[]`), "a@x.com", 0, true, "sent", time.Now(), time.Now(), nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM dispatches WHERE owner_id = $1 AND status = $2 AND recipient_email IS NOT NULL ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WithArgs("owner-1", status).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM dispatches WHERE owner_id = $1 AND status = $2 AND recipient_email IS NOT NULL")).
		WithArgs("owner-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.DispatchFilter{OwnerID: "owner-1", Status: &status, HasRecipient: &hasRecipient})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRepositoryRecipientFilterIsLiteral(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM dispatches WHERE owner_id = $1 AND recipient_email LIKE $2 ESCAPE '\'`)).
		WithArgs("owner-1", `%a\_b\%@x.com%`).
		WillReturnRows(dispatchRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM dispatches")).
		WithArgs("owner-1", `%a\_b\%@x.com%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := repo.List(context.Background(), models.DispatchFilter{OwnerID: "owner-1", Recipient: "A_B%@x.com"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
	assert.Equal(t, "a@x.com", escapeLike("a@x.com"))
}

func TestDispatchRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDispatchRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM dispatches WHERE owner_id = $1 GROUP BY status")).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("scheduled", 3).AddRow("completed", 2))

	counts, err := repo.CountByStatus(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.DispatchStatusScheduled])
	assert.Equal(t, 2, counts[models.DispatchStatusCompleted])
	require.NoError(t, mock.ExpectationsWereMet())
}
