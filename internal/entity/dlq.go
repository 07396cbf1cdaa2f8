package entity

import (
	"context"
	"time"
)

// DLQCategory classifies a failed job for retry policy purposes.
type DLQCategory string

const (
	DLQRetryable    DLQCategory = "RETRYABLE"
	DLQNonRetryable DLQCategory = "NON_RETRYABLE"
	DLQUnknown      DLQCategory = "UNKNOWN"
)

// DLQItem is a failed mint or sync job awaiting retry, manual review, or
// archival.
type DLQItem struct {
	ID          string
	JobID       string
	TicketID    string
	TenantID    string
	Category    DLQCategory
	RetryCount  int
	NextRetryAt *time.Time
	Archived    bool
	CreatedAt   time.Time
}

// DLQArchiveAfter is how long a NON_RETRYABLE item sits before auto-archival.
const DLQArchiveAfter = 7 * 24 * time.Hour

// DLQMaxRetries is the retry count at which a RETRYABLE item is promoted to
// NON_RETRYABLE.
const DLQMaxRetries = 5

// BackoffFor computes the delay before the next retry attempt for a given
// retry count, capped at one hour.
func BackoffFor(retryCount int) time.Duration {
	ms := 30_000 * (1 << uint(retryCount))
	const ceiling = 3_600_000
	if ms > ceiling || ms <= 0 {
		ms = ceiling
	}
	return time.Duration(ms) * time.Millisecond
}

// DLQRepository persists DLQItem rows and supports the processor's
// due-retry and archival scans.
type DLQRepository interface {
	// Insert adds a new item in the given category.
	Insert(ctx context.Context, item *DLQItem) error

	// DueForRetry returns RETRYABLE, non-archived items whose next_retry_at
	// has passed.
	DueForRetry(ctx context.Context, now time.Time) ([]*DLQItem, error)

	// DueForArchive returns NON_RETRYABLE items older than DLQArchiveAfter.
	DueForArchive(ctx context.Context, now time.Time) ([]*DLQItem, error)

	// UpdateAfterRetry records the outcome of a retry attempt: either a new
	// retry_count and next_retry_at, or a promotion to NON_RETRYABLE.
	UpdateAfterRetry(ctx context.Context, id string, category DLQCategory, retryCount int, nextRetryAt *time.Time) error

	// Archive marks an item archived.
	Archive(ctx context.Context, id string) error
}
