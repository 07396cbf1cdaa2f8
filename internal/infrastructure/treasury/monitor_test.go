package treasury

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pannpers/go-logging/logging"
	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
)

type fakeTreasuryRepo struct {
	mu     sync.Mutex
	txs    []*entity.TreasuryTransaction
	alerts []*entity.TreasuryAlert
}

func (r *fakeTreasuryRepo) InsertTransaction(ctx context.Context, tx *entity.TreasuryTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
	return nil
}

func (r *fakeTreasuryRepo) InsertAlert(ctx context.Context, alert *entity.TreasuryAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []*entity.TreasuryAlert
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, alert *entity.TreasuryAlert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, alert)
	return nil
}

func newTestMonitor(t *testing.T, whitelist []string) (*Monitor, *fakeTreasuryRepo, *fakeDispatcher) {
	t.Helper()
	logger, err := logging.New()
	require.NoError(t, err)
	repo := &fakeTreasuryRepo{}
	dispatcher := &fakeDispatcher{}
	m := NewMonitor(repo, dispatcher, entity.DefaultTreasuryThresholds(), whitelist, logger)
	return m, repo, dispatcher
}

func TestMonitor_CheckDestination(t *testing.T) {
	m, _, _ := newTestMonitor(t, []string{"addr-allowed"})

	require.NoError(t, m.CheckDestination("addr-allowed"))
	require.Error(t, m.CheckDestination("addr-unknown"))

	// An empty whitelist disables enforcement entirely.
	open, _, _ := newTestMonitor(t, nil)
	require.NoError(t, open.CheckDestination("anything"))
}

func TestMonitor_ThresholdCrossings(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	levelsOf := func(alerts []*entity.TreasuryAlert) map[entity.TreasuryAlertLevel]bool {
		got := map[entity.TreasuryAlertLevel]bool{}
		for _, a := range alerts {
			got[a.Level] = true
		}
		return got
	}

	t.Run("single large transfer", func(t *testing.T) {
		m, repo, _ := newTestMonitor(t, nil)
		m.Observe(ctx, entity.TreasuryTransaction{
			ID: "tx1", TenantID: "tenant-a", Amount: 0.6, OccurredAt: now,
		}, 5.0)
		require.True(t, levelsOf(repo.alerts)[entity.AlertSingleTxWarning])
		require.False(t, levelsOf(repo.alerts)[entity.AlertBalanceWarning])
	})

	t.Run("balance warning vs critical", func(t *testing.T) {
		m, repo, _ := newTestMonitor(t, nil)
		m.Observe(ctx, entity.TreasuryTransaction{
			ID: "tx1", TenantID: "tenant-a", Amount: 0.1, OccurredAt: now,
		}, 0.9)
		require.True(t, levelsOf(repo.alerts)[entity.AlertBalanceWarning])

		m.Observe(ctx, entity.TreasuryTransaction{
			ID: "tx2", TenantID: "tenant-b", Amount: 0.1, OccurredAt: now,
		}, 0.05)
		levels := levelsOf(repo.alerts)
		require.True(t, levels[entity.AlertBalanceCritical])
	})

	t.Run("hourly drain", func(t *testing.T) {
		m, repo, _ := newTestMonitor(t, nil)
		for i := 0; i < 5; i++ {
			m.Observe(ctx, entity.TreasuryTransaction{
				ID: "tx", TenantID: "tenant-a", Amount: 0.45,
				OccurredAt: now.Add(time.Duration(i) * time.Minute),
			}, 10.0)
		}
		// 5 * 0.45 = 2.25 within the hour, over the 2.0 drain threshold.
		require.True(t, levelsOf(repo.alerts)[entity.AlertDrainCritical])
	})
}

func TestMonitor_DedupesRepeatAlerts(t *testing.T) {
	m, repo, dispatcher := newTestMonitor(t, nil)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.Observe(ctx, entity.TreasuryTransaction{
			ID: "tx", TenantID: "tenant-a", Amount: 0.6, OccurredAt: now,
		}, 5.0)
	}

	// Three identical crossings inside the dedupe window raise exactly one
	// alert, dispatched once.
	require.Len(t, repo.alerts, 1)
	require.Len(t, dispatcher.dispatched, 1)
	require.Len(t, m.RecentAlerts(), 1)
}

func TestMonitor_AlertHistoryIsBounded(t *testing.T) {
	m, _, _ := newTestMonitor(t, nil)
	ctx := context.Background()
	now := time.Now()

	// Distinct tenants dodge dedupe, so each observation raises an alert.
	for i := 0; i < maxRetainedAlerts+20; i++ {
		m.Observe(ctx, entity.TreasuryTransaction{
			ID: "tx", TenantID: "tenant-" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Amount: 0.6, OccurredAt: now,
		}, 5.0)
	}
	require.Len(t, m.RecentAlerts(), maxRetainedAlerts)
}
