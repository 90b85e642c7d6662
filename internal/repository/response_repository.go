package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/followup-api/internal/models"
	"github.com/noah-isme/followup-api/pkg/database"
)

var (
	// ErrDispatchClosed is returned when the dispatch no longer accepts a response.
	ErrDispatchClosed = errors.New("dispatch no longer accepts responses")
	// ErrResponseExists is returned when the dispatch already holds a response.
	ErrResponseExists = errors.New("response already recorded for dispatch")
)

const uniqueViolation = "23505"

const responseWithDispatchColumns = `r.id, r.dispatch_id, r.owner_id, r.answers, r.total, r.average_score, r.score, r.submitted_at,
d.title, d.pathology, d.questions, d.recipient_email`

// ResponseRepository persists patient submissions.
type ResponseRepository struct {
	db *sqlx.DB
}

// NewResponseRepository constructs the repository.
func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Create completes the dispatch and stores the response in one transaction.
func (r *ResponseRepository) Create(ctx context.Context, resp *models.Response) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.SubmittedAt.IsZero() {
		resp.SubmittedAt = time.Now().UTC()
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		ok, err := transitionDispatch(ctx, tx, resp.DispatchID, models.DispatchEventRespond, resp.SubmittedAt)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDispatchClosed
		}
		const query = `INSERT INTO responses (id, dispatch_id, owner_id, answers, total, average_score, score, submitted_at)
VALUES (:id, :dispatch_id, :owner_id, :answers, :total, :average_score, :score, :submitted_at)`
		if _, err := tx.NamedExecContext(ctx, query, resp); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
				return ErrResponseExists
			}
			return fmt.Errorf("create response: %w", err)
		}
		return nil
	})
}

// FindByID returns an owned response joined with its dispatch snapshot.
func (r *ResponseRepository) FindByID(ctx context.Context, ownerID, id string) (*models.ResponseWithDispatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM responses r JOIN dispatches d ON d.id = r.dispatch_id
WHERE r.id = $1 AND r.owner_id = $2`, responseWithDispatchColumns)
	var item models.ResponseWithDispatch
	if err := r.db.GetContext(ctx, &item, query, id, ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get response: %w", err)
	}
	return &item, nil
}

// List returns owner responses matching filter, most recent first.
func (r *ResponseRepository) List(ctx context.Context, filter models.ResponseFilter) ([]models.ResponseWithDispatch, error) {
	args := []interface{}{filter.OwnerID}
	conditions := []string{"r.owner_id = $1"}

	if filter.Pathology != "" {
		conditions = append(conditions, fmt.Sprintf("d.pathology = $%d", len(args)+1))
		args = append(args, filter.Pathology)
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("r.submitted_at >= $%d", len(args)+1))
		args = append(args, *filter.Since)
	}
	if filter.MaxScore != nil {
		conditions = append(conditions, fmt.Sprintf("r.average_score <= $%d", len(args)+1))
		args = append(args, *filter.MaxScore)
	}

	query := fmt.Sprintf(`SELECT %s FROM responses r JOIN dispatches d ON d.id = r.dispatch_id
WHERE %s ORDER BY r.submitted_at DESC`, responseWithDispatchColumns, strings.Join(conditions, " AND "))
	var items []models.ResponseWithDispatch
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return items, nil
}

// ResponseStats aggregates an owner's responses.
type ResponseStats struct {
	Total        int     `db:"total"`
	AverageScore float64 `db:"average_score"`
	Critical     int     `db:"critical"`
}

// Stats counts responses and those at or below threshold.
func (r *ResponseRepository) Stats(ctx context.Context, ownerID string, threshold float64) (*ResponseStats, error) {
	const query = `SELECT COUNT(*) AS total, COALESCE(AVG(average_score), 0) AS average_score,
COUNT(*) FILTER (WHERE average_score <= $2) AS critical
FROM responses WHERE owner_id = $1`
	var stats ResponseStats
	if err := r.db.GetContext(ctx, &stats, query, ownerID, threshold); err != nil {
		return nil, fmt.Errorf("response stats: %w", err)
	}
	return &stats, nil
}
