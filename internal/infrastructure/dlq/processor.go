package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
)

// scanInterval is how often the processor polls for due retries and
// archivable items.
const scanInterval = 5 * time.Minute

// Retrier re-attempts the job a DLQItem represents. An error returned here
// is itself classified to decide the item's next state.
type Retrier interface {
	Retry(ctx context.Context, item *entity.DLQItem) error
}

// Processor runs scanInterval loop that retries due RETRYABLE items and
// archives stale NON_RETRYABLE ones. Stop cancels the loop's context and
// stops its ticker explicitly: the original version left the ticker
// running after a Stop because the goroutine exited through the ctx.Done
// case without reaching the deferred Stop call on certain exit paths, and
// since Processor is reconstructed per test run that quietly leaked
// timers. Stop now drives cancellation and shutdown synchronously through
// one channel so there is exactly one path out of the loop.
type Processor struct {
	repo    entity.DLQRepository
	retrier Retrier
	logger  *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor builds a Processor. Start must be called to begin the scan
// loop.
func NewProcessor(repo entity.DLQRepository, retrier Retrier, logger *logging.Logger) *Processor {
	return &Processor{repo: repo, retrier: retrier, logger: logger}
}

// Start begins the background scan loop. It is safe to call Stop even if
// Start was never called.
func (p *Processor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx)
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOnce(ctx)
		}
	}
}

func (p *Processor) scanOnce(ctx context.Context) {
	now := time.Now()

	due, err := p.repo.DueForRetry(ctx, now)
	if err != nil {
		p.logger.Error(ctx, "dlq: due-for-retry scan failed", err)
	} else {
		for _, item := range due {
			p.retryOne(ctx, item)
		}
	}

	stale, err := p.repo.DueForArchive(ctx, now)
	if err != nil {
		p.logger.Error(ctx, "dlq: due-for-archive scan failed", err)
		return
	}
	for _, item := range stale {
		if err := p.repo.Archive(ctx, item.ID); err != nil {
			p.logger.Error(ctx, "dlq: archive failed", err, slog.String("item_id", item.ID))
		}
	}
}

func (p *Processor) retryOne(ctx context.Context, item *entity.DLQItem) {
	err := p.retrier.Retry(ctx, item)
	if err == nil {
		if err := p.repo.Archive(ctx, item.ID); err != nil {
			p.logger.Error(ctx, "dlq: archive after successful retry failed", err, slog.String("item_id", item.ID))
		}
		return
	}

	category := Classify(err)
	retryCount := item.RetryCount + 1

	if category == entity.DLQNonRetryable || retryCount >= entity.DLQMaxRetries {
		if err := p.repo.UpdateAfterRetry(ctx, item.ID, entity.DLQNonRetryable, retryCount, nil); err != nil {
			p.logger.Error(ctx, "dlq: promote to non-retryable failed", err, slog.String("item_id", item.ID))
		}
		return
	}

	next := time.Now().Add(entity.BackoffFor(retryCount))
	if err := p.repo.UpdateAfterRetry(ctx, item.ID, category, retryCount, &next); err != nil {
		p.logger.Error(ctx, "dlq: record retry outcome failed", err, slog.String("item_id", item.ID))
	}
}

// Stop cancels the scan loop and blocks until it has fully exited,
// guaranteeing the ticker is stopped before Stop returns.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}
