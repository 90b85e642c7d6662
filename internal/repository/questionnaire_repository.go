package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/followup-api/internal/models"
)

const questionnaireColumns = `id, owner_id, title, pathology, questions, default_delay_days, created_at, updated_at`

// QuestionnaireRepository persists practitioner questionnaire templates.
type QuestionnaireRepository struct {
	db *sqlx.DB
}

// NewQuestionnaireRepository constructs the repository.
func NewQuestionnaireRepository(db *sqlx.DB) *QuestionnaireRepository {
	return &QuestionnaireRepository{db: db}
}

// Create inserts a questionnaire, assigning an id and timestamps when missing.
func (r *QuestionnaireRepository) Create(ctx context.Context, q *models.Questionnaire) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = q.CreatedAt
	const query = `INSERT INTO questionnaires (id, owner_id, title, pathology, questions, default_delay_days, created_at, updated_at)
VALUES (:id, :owner_id, :title, :pathology, :questions, :default_delay_days, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, q); err != nil {
		return fmt.Errorf("create questionnaire: %w", err)
	}
	return nil
}

// Update replaces the editable fields of an owned questionnaire. Dispatches
// keep their own snapshot so edits never reach records already created.
func (r *QuestionnaireRepository) Update(ctx context.Context, q *models.Questionnaire) error {
	q.UpdatedAt = time.Now().UTC()
	const query = `UPDATE questionnaires SET title = $1, pathology = $2, questions = $3, default_delay_days = $4, updated_at = $5
WHERE id = $6 AND owner_id = $7`
	res, err := r.db.ExecContext(ctx, query, q.Title, q.Pathology, q.Questions, q.DefaultDelayDays, q.UpdatedAt, q.ID, q.OwnerID)
	if err != nil {
		return fmt.Errorf("update questionnaire: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update questionnaire rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID returns an owned questionnaire.
func (r *QuestionnaireRepository) FindByID(ctx context.Context, ownerID, id string) (*models.Questionnaire, error) {
	query := fmt.Sprintf(`SELECT %s FROM questionnaires WHERE id = $1 AND owner_id = $2`, questionnaireColumns)
	var q models.Questionnaire
	if err := r.db.GetContext(ctx, &q, query, id, ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get questionnaire: %w", err)
	}
	return &q, nil
}

// List returns the owner's questionnaires newest first.
func (r *QuestionnaireRepository) List(ctx context.Context, ownerID string, page, size int) ([]models.Questionnaire, int, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM questionnaires WHERE owner_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		questionnaireColumns, size, (page-1)*size)
	var items []models.Questionnaire
	if err := r.db.SelectContext(ctx, &items, query, ownerID); err != nil {
		return nil, 0, fmt.Errorf("list questionnaires: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM questionnaires WHERE owner_id = $1`, ownerID); err != nil {
		return nil, 0, fmt.Errorf("count questionnaires: %w", err)
	}
	return items, total, nil
}
