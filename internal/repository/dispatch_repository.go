package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/followup-api/internal/models"
)

const dispatchColumns = `id, owner_id, questionnaire_id, title, pathology, questions, recipient_email, delay_days, send_immediately, status, created_at, sent_at, completed_at, expired_at, last_error`

// dueExpression is the instant a dispatch becomes due, creation plus its delay.
const dueExpression = `created_at + make_interval(days => COALESCE(delay_days, 0))`

// DispatchRepository persists dispatch records and guards their status transitions.
type DispatchRepository struct {
	db *sqlx.DB
}

// NewDispatchRepository constructs the repository.
func NewDispatchRepository(db *sqlx.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// Create inserts one dispatch record.
func (r *DispatchRepository) Create(ctx context.Context, d *models.Dispatch) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO dispatches (id, owner_id, questionnaire_id, title, pathology, questions, recipient_email, delay_days, send_immediately, status, created_at, sent_at, completed_at, expired_at, last_error)
VALUES (:id, :owner_id, :questionnaire_id, :title, :pathology, :questions, :recipient_email, :delay_days, :send_immediately, :status, :created_at, :sent_at, :completed_at, :expired_at, :last_error)`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("create dispatch: %w", err)
	}
	return nil
}

// FindByID returns a dispatch regardless of owner. Callers scope the result.
func (r *DispatchRepository) FindByID(ctx context.Context, id string) (*models.Dispatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM dispatches WHERE id = $1`, dispatchColumns)
	var d models.Dispatch
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get dispatch: %w", err)
	}
	return &d, nil
}

// List returns owner dispatches matching filter, newest first, with the total count.
func (r *DispatchRepository) List(ctx context.Context, filter models.DispatchFilter) ([]models.Dispatch, int, error) {
	args := []interface{}{filter.OwnerID}
	conditions := []string{"owner_id = $1"}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.HasRecipient != nil {
		if *filter.HasRecipient {
			conditions = append(conditions, "recipient_email IS NOT NULL")
		} else {
			conditions = append(conditions, "recipient_email IS NULL")
		}
	}
	if filter.Recipient != "" {
		conditions = append(conditions, fmt.Sprintf(`recipient_email LIKE $%d ESCAPE '\'`, len(args)+1))
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Recipient))+"%")
	}

	where := strings.Join(conditions, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf(`SELECT %s FROM dispatches WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		dispatchColumns, where, size, (page-1)*size)
	var items []models.Dispatch
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list dispatches: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM dispatches WHERE %s`, where), args...); err != nil {
		return nil, 0, fmt.Errorf("count dispatches: %w", err)
	}
	return items, total, nil
}

// Transition applies event to the dispatch only while its stored status still
// accepts it. It reports false when another writer got there first.
func (r *DispatchRepository) Transition(ctx context.Context, id string, event models.DispatchEvent, at time.Time) (bool, error) {
	return transitionDispatch(ctx, r.db, id, event, at)
}

func transitionDispatch(ctx context.Context, exec sqlx.ExecerContext, id string, event models.DispatchEvent, at time.Time) (bool, error) {
	sources := models.SourcesFor(event)
	if len(sources) == 0 {
		return false, fmt.Errorf("transition dispatch: %w: %s", models.ErrInvalidTransition, event)
	}
	target, err := models.Transition(sources[0], event)
	if err != nil {
		return false, err
	}

	set := []string{"status = $1"}
	switch event {
	case models.DispatchEventFire:
		set = append(set, "sent_at = $2", "last_error = NULL")
	case models.DispatchEventRespond:
		set = append(set, "completed_at = $2")
	case models.DispatchEventExpire:
		set = append(set, "expired_at = $2")
	}

	states := make([]string, len(sources))
	for i, s := range sources {
		states[i] = string(s)
	}

	query := fmt.Sprintf(`UPDATE dispatches SET %s WHERE id = $3 AND status = ANY($4)`, strings.Join(set, ", "))
	res, err := exec.ExecContext(ctx, query, target, at, id, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("transition dispatch %s: %w", event, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition dispatch rows: %w", err)
	}
	return affected > 0, nil
}

// MarkError records the reason a send failed without touching the status.
func (r *DispatchRepository) MarkError(ctx context.Context, id, reason string) error {
	const query = `UPDATE dispatches SET last_error = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("mark dispatch error: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside a LIKE pattern.
func escapeLike(v string) string {
	return likeEscaper.Replace(v)
}

// AbandonFire stops the sweeper from offering a scheduled dispatch again.
// Status and last error are left as they are.
func (r *DispatchRepository) AbandonFire(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE dispatches SET fire_abandoned_at = $1 WHERE id = $2 AND status = 'scheduled'`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("abandon dispatch fire: %w", err)
	}
	return nil
}

// ListDue returns scheduled dispatches whose send instant has passed and that
// were not abandoned after repeated delivery failures.
func (r *DispatchRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Dispatch, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM dispatches
WHERE status = 'scheduled' AND recipient_email IS NOT NULL AND %s <= $1 AND fire_abandoned_at IS NULL
ORDER BY created_at ASC LIMIT $2`, dispatchColumns, dueExpression)
	var items []models.Dispatch
	if err := r.db.SelectContext(ctx, &items, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due dispatches: %w", err)
	}
	return items, nil
}

// ListExpirable returns unanswered dispatches that were due before cutoff.
func (r *DispatchRepository) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Dispatch, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM dispatches
WHERE status IN ('scheduled', 'sent') AND recipient_email IS NOT NULL AND %s <= $1
ORDER BY created_at ASC LIMIT $2`, dispatchColumns, dueExpression)
	var items []models.Dispatch
	if err := r.db.SelectContext(ctx, &items, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list expirable dispatches: %w", err)
	}
	return items, nil
}

type statusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// CountByStatus returns the owner's dispatch totals keyed by status.
func (r *DispatchRepository) CountByStatus(ctx context.Context, ownerID string) (map[models.DispatchStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM dispatches WHERE owner_id = $1 GROUP BY status`
	var rows []statusCount
	if err := r.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("count dispatches by status: %w", err)
	}
	counts := make(map[models.DispatchStatus]int, len(rows))
	for _, row := range rows {
		counts[models.DispatchStatus(row.Status)] = row.Count
	}
	return counts, nil
}
