package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/followup-api/internal/models"
)

var completeDispatch = regexp.QuoteMeta("UPDATE dispatches SET status = $1, completed_at = $2 WHERE id = $3 AND status = ANY($4)")

func newResponse() *models.Response {
	score := models.ComputeScore([]int{2, 1, 2})
	return &models.Response{
		DispatchID:   "d-1",
		OwnerID:      "owner-1",
		Answers:      models.AnswerList{2, 1, 2},
		Total:        score.Total,
		AverageScore: score.Average,
		Score:        score.Rounded,
		SubmittedAt:  time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestResponseRepositoryCreateCompletesDispatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)
	resp := newResponse()

	mock.ExpectBegin()
	mock.ExpectExec(completeDispatch).
		WithArgs(models.DispatchStatusCompleted, resp.SubmittedAt, "d-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO responses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), resp))
	assert.NotEmpty(t, resp.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryCreateRejectsClosedDispatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(completeDispatch).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newResponse())
	assert.ErrorIs(t, err, ErrDispatchClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(completeDispatch).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO responses")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newResponse())
	assert.ErrorIs(t, err, ErrResponseExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	maxScore := 2.0

	rows := sqlmock.NewRows([]string{"id", "dispatch_id", "owner_id", "answers", "total", "average_score", "score", "submitted_at", "title", "pathology", "questions", "recipient_email"}).
		AddRow("r-1", "d-1", "owner-1", []byte(`[2,1,2]`), 5, 1.6666, 1.7, since.Add(time.Hour), "Suivi", "genou", []byte(`[{"text":"A"},{"text":"B"},{"text":"C"}]`), "a@x.com")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.owner_id = $1 AND d.pathology = $2 AND r.submitted_at >= $3 AND r.average_score <= $4 ORDER BY r.submitted_at DESC")).
		WithArgs("owner-1", "genou", since, maxScore).
		WillReturnRows(rows)

	items, err := repo.List(context.Background(), models.ResponseFilter{OwnerID: "owner-1", Pathology: "genou", Since: &since, MaxScore: &maxScore})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.AnswerList{2, 1, 2}, items[0].Answers)
	assert.Equal(t, "B", items[0].Questions.Prompt(1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM responses WHERE owner_id = $1")).
		WithArgs("owner-1", 2.0).
		WillReturnRows(sqlmock.NewRows([]string{"total", "average_score", "critical"}).AddRow(4, 3.1, 1))

	stats, err := repo.Stats(context.Background(), "owner-1", 2.0)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Critical)
	require.NoError(t, mock.ExpectationsWereMet())
}
