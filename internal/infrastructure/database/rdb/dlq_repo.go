package rdb

import (
	"context"
	"time"

	"github.com/ticketcore/scancore/internal/entity"
)

// DLQRepository implements entity.DLQRepository.
type DLQRepository struct {
	db *Database
}

var _ entity.DLQRepository = (*DLQRepository)(nil)

// NewDLQRepository builds a DLQRepository over db.
func NewDLQRepository(db *Database) *DLQRepository {
	return &DLQRepository{db: db}
}

const (
	insertDLQItemQuery = `
		INSERT INTO dlq_items (id, job_id, ticket_id, tenant_id, category, retry_count, next_retry_at, archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
	`

	dueForRetryQuery = `
		SELECT id, job_id, ticket_id, tenant_id, category, retry_count, next_retry_at, archived, created_at
		FROM dlq_items
		WHERE category = $1 AND archived = false AND next_retry_at IS NOT NULL AND next_retry_at <= $2
	`

	dueForArchiveQuery = `
		SELECT id, job_id, ticket_id, tenant_id, category, retry_count, next_retry_at, archived, created_at
		FROM dlq_items
		WHERE category = $1 AND archived = false AND created_at <= $2
	`

	updateDLQAfterRetryQuery = `
		UPDATE dlq_items SET category = $2, retry_count = $3, next_retry_at = $4
		WHERE id = $1
	`

	archiveDLQItemQuery = `
		UPDATE dlq_items SET archived = true WHERE id = $1
	`
)

// Insert adds a new item in the given category.
func (r *DLQRepository) Insert(ctx context.Context, item *entity.DLQItem) error {
	_, err := r.db.Pool.Exec(ctx, insertDLQItemQuery,
		item.ID, item.JobID, item.TicketID, item.TenantID, item.Category, item.RetryCount, item.NextRetryAt, item.CreatedAt)
	if err != nil {
		return toAppErr(err, "failed to insert dlq item")
	}
	return nil
}

// DueForRetry returns RETRYABLE, non-archived items whose next_retry_at
// has passed.
func (r *DLQRepository) DueForRetry(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	return r.queryItems(ctx, dueForRetryQuery, entity.DLQRetryable, now)
}

// DueForArchive returns NON_RETRYABLE items older than entity.DLQArchiveAfter.
func (r *DLQRepository) DueForArchive(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	cutoff := now.Add(-entity.DLQArchiveAfter)
	return r.queryItems(ctx, dueForArchiveQuery, entity.DLQNonRetryable, cutoff)
}

func (r *DLQRepository) queryItems(ctx context.Context, query string, args ...any) ([]*entity.DLQItem, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, toAppErr(err, "failed to query dlq items")
	}
	defer rows.Close()

	var items []*entity.DLQItem
	for rows.Next() {
		var item entity.DLQItem
		if err := rows.Scan(&item.ID, &item.JobID, &item.TicketID, &item.TenantID, &item.Category,
			&item.RetryCount, &item.NextRetryAt, &item.Archived, &item.CreatedAt); err != nil {
			return nil, toAppErr(err, "failed to scan dlq item row")
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, toAppErr(err, "failed to iterate dlq item rows")
	}
	return items, nil
}

// UpdateAfterRetry records the outcome of a retry attempt: either a new
// retry_count and next_retry_at, or a promotion to NON_RETRYABLE.
func (r *DLQRepository) UpdateAfterRetry(ctx context.Context, id string, category entity.DLQCategory, retryCount int, nextRetryAt *time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, updateDLQAfterRetryQuery, id, category, retryCount, nextRetryAt)
	if err != nil {
		return toAppErr(err, "failed to update dlq item after retry")
	}
	return errRowsAffected(tag, "dlq_item")
}

// Archive marks an item archived.
func (r *DLQRepository) Archive(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, archiveDLQItemQuery, id)
	if err != nil {
		return toAppErr(err, "failed to archive dlq item")
	}
	return errRowsAffected(tag, "dlq_item")
}
