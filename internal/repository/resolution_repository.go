package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/followup-api/internal/models"
)

const resolutionColumns = `response_id, owner_id, status, note, assigned_to, resolved_by, resolved_at, updated_at`

// ResolutionRepository stores the practitioner workflow state of alerts.
type ResolutionRepository struct {
	db *sqlx.DB
}

// NewResolutionRepository constructs the repository.
func NewResolutionRepository(db *sqlx.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

// Upsert writes the resolution keyed by response id. The note and resolver
// fields always take the written value, so moving back to in-progress clears
// them. A nil assignee keeps the stored one.
func (r *ResolutionRepository) Upsert(ctx context.Context, res *models.Resolution) error {
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO resolutions (response_id, owner_id, status, note, assigned_to, resolved_by, resolved_at, updated_at)
VALUES (:response_id, :owner_id, :status, :note, :assigned_to, :resolved_by, :resolved_at, :updated_at)
ON CONFLICT (response_id) DO UPDATE SET
	status = EXCLUDED.status,
	note = EXCLUDED.note,
	assigned_to = COALESCE(EXCLUDED.assigned_to, resolutions.assigned_to),
	resolved_by = EXCLUDED.resolved_by,
	resolved_at = EXCLUDED.resolved_at,
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, res); err != nil {
		return fmt.Errorf("upsert resolution: %w", err)
	}
	return nil
}

// FindByResponse returns the stored resolution or sql.ErrNoRows.
func (r *ResolutionRepository) FindByResponse(ctx context.Context, ownerID, responseID string) (*models.Resolution, error) {
	query := fmt.Sprintf(`SELECT %s FROM resolutions WHERE response_id = $1 AND owner_id = $2`, resolutionColumns)
	var res models.Resolution
	if err := r.db.GetContext(ctx, &res, query, responseID, ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get resolution: %w", err)
	}
	return &res, nil
}

// ListByResponses returns stored resolutions for the given responses keyed by response id.
func (r *ResolutionRepository) ListByResponses(ctx context.Context, ownerID string, responseIDs []string) (map[string]models.Resolution, error) {
	result := make(map[string]models.Resolution, len(responseIDs))
	if len(responseIDs) == 0 {
		return result, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM resolutions WHERE owner_id = $1 AND response_id = ANY($2)`, resolutionColumns)
	var rows []models.Resolution
	if err := r.db.SelectContext(ctx, &rows, query, ownerID, pq.Array(responseIDs)); err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	for _, row := range rows {
		result[row.ResponseID] = row
	}
	return result, nil
}

// CountAlertsByStatus counts alert-eligible responses per resolution status,
// treating responses without a resolution row as new.
func (r *ResolutionRepository) CountAlertsByStatus(ctx context.Context, ownerID string, threshold float64) (map[models.ResolutionStatus]int, error) {
	const query = `SELECT COALESCE(s.status, 'new') AS status, COUNT(*) AS count
FROM responses r LEFT JOIN resolutions s ON s.response_id = r.id
WHERE r.owner_id = $1 AND r.average_score <= $2
GROUP BY COALESCE(s.status, 'new')`
	var rows []statusCount
	if err := r.db.SelectContext(ctx, &rows, query, ownerID, threshold); err != nil {
		return nil, fmt.Errorf("count alerts by resolution: %w", err)
	}
	counts := make(map[models.ResolutionStatus]int, len(rows))
	for _, row := range rows {
		counts[models.ResolutionStatus(row.Status)] = row.Count
	}
	return counts, nil
}
