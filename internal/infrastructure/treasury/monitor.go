// Package treasury implements the Treasury Guard: a destination whitelist
// check plus a sliding-window drain monitor that raises de-duplicated
// alerts when a custodial treasury's balance or outflow crosses a
// threshold. A single mutex-guarded struct exposes an Observe-style
// entrypoint called inline from the transfer path rather than a separate
// polling loop, since a treasury debit is already synchronous and doesn't
// need its own ticker.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
)

// drainWindow bounds how far back transfers are summed for the 1h drain
// calculation.
const drainWindow = time.Hour

// retentionWindow bounds how far back transfers are kept in the per-tenant
// record.
const retentionWindow = 24 * time.Hour

// dedupeWindow suppresses repeat alerts of the same (tenant, level) within
// this interval so a sustained low-balance condition doesn't page on every
// transfer.
const dedupeWindow = 5 * time.Minute

// maxRetainedAlerts bounds the in-process alert history.
const maxRetainedAlerts = 100

// Monitor evaluates every outgoing treasury transfer against a destination
// whitelist and a set of balance/drain thresholds, persisting and
// dispatching any alert raised.
type Monitor struct {
	repo       entity.TreasuryRepository
	dispatcher entity.AlertDispatcher
	thresholds entity.TreasuryThresholds
	whitelist  map[string]struct{}
	logger     *logging.Logger

	mu          sync.Mutex
	recent      map[string][]entity.TreasuryTransaction // tenantID -> recent transfers
	lastAlertAt map[string]time.Time                    // tenantID:level -> last raise
	history     []entity.TreasuryAlert                  // raised alerts, newest last, capped
}

// NewMonitor builds a Monitor. whitelistedDestinations is the fixed set of
// addresses outgoing transfers are allowed to target; an empty set means
// no whitelist is enforced (development mode).
func NewMonitor(repo entity.TreasuryRepository, dispatcher entity.AlertDispatcher, thresholds entity.TreasuryThresholds, whitelistedDestinations []string, logger *logging.Logger) *Monitor {
	wl := make(map[string]struct{}, len(whitelistedDestinations))
	for _, d := range whitelistedDestinations {
		wl[d] = struct{}{}
	}
	return &Monitor{
		repo:        repo,
		dispatcher:  dispatcher,
		thresholds:  thresholds,
		whitelist:   wl,
		logger:      logger,
		recent:      make(map[string][]entity.TreasuryTransaction),
		lastAlertAt: make(map[string]time.Time),
	}
}

// CheckDestination rejects a transfer target that isn't whitelisted. A nil
// error means the destination is allowed (including when no whitelist is
// configured).
func (m *Monitor) CheckDestination(destination string) error {
	if len(m.whitelist) == 0 {
		return nil
	}
	if _, ok := m.whitelist[destination]; !ok {
		return fmt.Errorf("treasury: destination %q is not whitelisted", destination)
	}
	return nil
}

// Observe records an outgoing transfer and the post-transfer balance,
// evaluates every threshold, and raises any alerts that fire. Dispatch
// failures are logged only; they never fail the transfer that triggered
// them.
func (m *Monitor) Observe(ctx context.Context, tx entity.TreasuryTransaction, balanceAfter float64) {
	if err := m.repo.InsertTransaction(ctx, &tx); err != nil {
		m.logger.Error(ctx, "treasury: failed to persist transfer record", err)
	}

	var alerts []entity.TreasuryAlert

	if tx.Amount >= m.thresholds.SingleTxWarning {
		alerts = append(alerts, m.newAlert(tx.TenantID, entity.AlertSingleTxWarning,
			fmt.Sprintf("single transfer of %.4f exceeds warning threshold %.4f", tx.Amount, m.thresholds.SingleTxWarning)))
	}

	if balanceAfter <= m.thresholds.BalanceCritical {
		alerts = append(alerts, m.newAlert(tx.TenantID, entity.AlertBalanceCritical,
			fmt.Sprintf("balance %.4f at or below critical threshold %.4f", balanceAfter, m.thresholds.BalanceCritical)))
	} else if balanceAfter <= m.thresholds.BalanceWarning {
		alerts = append(alerts, m.newAlert(tx.TenantID, entity.AlertBalanceWarning,
			fmt.Sprintf("balance %.4f at or below warning threshold %.4f", balanceAfter, m.thresholds.BalanceWarning)))
	}

	drained := m.recordAndSumWindow(tx)
	if drained >= m.thresholds.DrainCritical1h {
		alerts = append(alerts, m.newAlert(tx.TenantID, entity.AlertDrainCritical,
			fmt.Sprintf("outflow of %.4f within the last hour exceeds drain threshold %.4f", drained, m.thresholds.DrainCritical1h)))
	}

	for _, alert := range alerts {
		m.raise(ctx, alert)
	}
}

func (m *Monitor) newAlert(tenantID string, level entity.TreasuryAlertLevel, detail string) entity.TreasuryAlert {
	return entity.TreasuryAlert{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Level:    level,
		Detail:   detail,
		RaisedAt: time.Now(),
	}
}

// recordAndSumWindow appends tx to the tenant's recent transfer list,
// evicts entries older than retentionWindow, and returns the sum of the
// entries within drainWindow.
func (m *Monitor) recordAndSumWindow(tx entity.TreasuryTransaction) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.recent[tx.TenantID], tx)
	keepAfter := tx.OccurredAt.Add(-retentionWindow)
	sumAfter := tx.OccurredAt.Add(-drainWindow)
	kept := list[:0]
	var sum float64
	for _, t := range list {
		if t.OccurredAt.After(keepAfter) {
			kept = append(kept, t)
			if t.OccurredAt.After(sumAfter) {
				sum += t.Amount
			}
		}
	}
	m.recent[tx.TenantID] = kept
	return sum
}

// raise persists and dispatches alert unless an identical (tenant, level)
// alert fired within dedupeWindow.
func (m *Monitor) raise(ctx context.Context, alert entity.TreasuryAlert) {
	key := alert.TenantID + ":" + string(alert.Level)

	m.mu.Lock()
	last, seen := m.lastAlertAt[key]
	if seen && time.Since(last) < dedupeWindow {
		m.mu.Unlock()
		return
	}
	m.lastAlertAt[key] = alert.RaisedAt
	m.history = append(m.history, alert)
	if len(m.history) > maxRetainedAlerts {
		m.history = append(m.history[:0], m.history[len(m.history)-maxRetainedAlerts:]...)
	}
	m.mu.Unlock()

	if err := m.repo.InsertAlert(ctx, &alert); err != nil {
		m.logger.Error(ctx, "treasury: failed to persist alert", err)
	}
	if err := m.dispatcher.Dispatch(ctx, &alert); err != nil {
		m.logger.Error(ctx, "treasury: alert dispatch failed", err, slog.String("level", string(alert.Level)))
	}
}

// RecentAlerts returns a copy of the retained alert history, newest last.
func (m *Monitor) RecentAlerts() []entity.TreasuryAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.TreasuryAlert(nil), m.history...)
}
