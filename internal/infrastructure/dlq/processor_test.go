package dlq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pannpers/go-logging/logging"
	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
)

type memDLQRepo struct {
	mu    sync.Mutex
	items map[string]*entity.DLQItem
}

func newMemDLQRepo() *memDLQRepo {
	return &memDLQRepo{items: map[string]*entity.DLQItem{}}
}

func (r *memDLQRepo) Insert(ctx context.Context, item *entity.DLQItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *memDLQRepo) DueForRetry(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*entity.DLQItem
	for _, item := range r.items {
		if item.Archived || item.Category != entity.DLQRetryable || item.NextRetryAt == nil {
			continue
		}
		if !item.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	return due, nil
}

func (r *memDLQRepo) DueForArchive(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*entity.DLQItem
	for _, item := range r.items {
		if item.Archived || item.Category != entity.DLQNonRetryable {
			continue
		}
		if now.Sub(item.CreatedAt) >= entity.DLQArchiveAfter {
			stale = append(stale, item)
		}
	}
	return stale, nil
}

func (r *memDLQRepo) UpdateAfterRetry(ctx context.Context, id string, category entity.DLQCategory, retryCount int, nextRetryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.items[id]
	item.Category = category
	item.RetryCount = retryCount
	item.NextRetryAt = nextRetryAt
	return nil
}

func (r *memDLQRepo) Archive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id].Archived = true
	return nil
}

func (r *memDLQRepo) get(id string) *entity.DLQItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id]
}

type scriptedRetrier struct {
	err error
}

func (s *scriptedRetrier) Retry(ctx context.Context, item *entity.DLQItem) error {
	return s.err
}

func newTestProcessor(t *testing.T, repo entity.DLQRepository, retrier Retrier) *Processor {
	t.Helper()
	logger, err := logging.New()
	require.NoError(t, err)
	return NewProcessor(repo, retrier, logger)
}

func dueNow() *time.Time {
	at := time.Now().Add(-time.Second)
	return &at
}

func TestProcessor_SuccessfulRetryArchivesItem(t *testing.T) {
	repo := newMemDLQRepo()
	require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
		ID: "item-1", Category: entity.DLQRetryable, NextRetryAt: dueNow(), CreatedAt: time.Now(),
	}))

	p := newTestProcessor(t, repo, &scriptedRetrier{})
	p.scanOnce(context.Background())

	require.True(t, repo.get("item-1").Archived)
}

func TestProcessor_RetryableFailureSchedulesBackoff(t *testing.T) {
	repo := newMemDLQRepo()
	require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
		ID: "item-1", Category: entity.DLQRetryable, RetryCount: 1, NextRetryAt: dueNow(), CreatedAt: time.Now(),
	}))

	p := newTestProcessor(t, repo, &scriptedRetrier{err: errors.New("connection reset: ECONNRESET")})
	before := time.Now()
	p.scanOnce(context.Background())

	item := repo.get("item-1")
	require.False(t, item.Archived)
	require.Equal(t, entity.DLQRetryable, item.Category)
	require.Equal(t, 2, item.RetryCount)
	require.NotNil(t, item.NextRetryAt)

	// next_retry_at ~ now + 30s * 2^2
	wantDelay := entity.BackoffFor(2)
	gotDelay := item.NextRetryAt.Sub(before)
	require.InDelta(t, wantDelay.Seconds(), gotDelay.Seconds(), 5)
}

func TestProcessor_PromotesToNonRetryable(t *testing.T) {
	t.Run("non-retryable error text", func(t *testing.T) {
		repo := newMemDLQRepo()
		require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
			ID: "item-1", Category: entity.DLQRetryable, NextRetryAt: dueNow(), CreatedAt: time.Now(),
		}))

		p := newTestProcessor(t, repo, &scriptedRetrier{err: errors.New("insufficient funds")})
		p.scanOnce(context.Background())

		item := repo.get("item-1")
		require.Equal(t, entity.DLQNonRetryable, item.Category)
		require.Nil(t, item.NextRetryAt)
	})

	t.Run("retry budget exhausted", func(t *testing.T) {
		repo := newMemDLQRepo()
		require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
			ID: "item-1", Category: entity.DLQRetryable, RetryCount: entity.DLQMaxRetries - 1,
			NextRetryAt: dueNow(), CreatedAt: time.Now(),
		}))

		p := newTestProcessor(t, repo, &scriptedRetrier{err: errors.New("request timed out")})
		p.scanOnce(context.Background())

		item := repo.get("item-1")
		require.Equal(t, entity.DLQNonRetryable, item.Category)
		require.Equal(t, entity.DLQMaxRetries, item.RetryCount)
	})
}

func TestProcessor_ArchivesStaleNonRetryable(t *testing.T) {
	repo := newMemDLQRepo()
	require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
		ID: "old", Category: entity.DLQNonRetryable, CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, repo.Insert(context.Background(), &entity.DLQItem{
		ID: "fresh", Category: entity.DLQNonRetryable, CreatedAt: time.Now().Add(-time.Hour),
	}))

	p := newTestProcessor(t, repo, &scriptedRetrier{})
	p.scanOnce(context.Background())

	require.True(t, repo.get("old").Archived)
	require.False(t, repo.get("fresh").Archived)
}

func TestProcessor_StopIsIdempotentAndStopsTheLoop(t *testing.T) {
	repo := newMemDLQRepo()
	p := newTestProcessor(t, repo, &scriptedRetrier{})

	// Stop before Start is a no-op.
	p.Stop()

	p.Start(context.Background())
	p.Stop()

	// The loop goroutine has fully exited once Stop returns; a second Stop
	// must not panic or hang.
	select {
	case <-p.done:
	default:
		t.Fatal("processor loop still running after Stop returned")
	}
	p.Stop()
}

func TestBackoffFor_CapsAtOneHour(t *testing.T) {
	require.Equal(t, 30*time.Second, entity.BackoffFor(0))
	require.Equal(t, time.Minute, entity.BackoffFor(1))
	require.Equal(t, time.Hour, entity.BackoffFor(10))
	require.Equal(t, time.Hour, entity.BackoffFor(40), "overflow-sized retry counts still cap at the ceiling")
}
