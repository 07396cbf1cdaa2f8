package entity

import (
	"context"
	"time"
)

// TreasuryTransaction is a record of one outgoing transfer, used by the
// rolling drain monitor.
type TreasuryTransaction struct {
	ID          string
	TenantID    string
	Destination string
	Amount      float64 // native units (e.g. SOL)
	OccurredAt  time.Time
}

// TreasuryAlertLevel classifies how severe a threshold crossing is.
type TreasuryAlertLevel string

const (
	AlertBalanceWarning  TreasuryAlertLevel = "BALANCE_WARNING"
	AlertBalanceCritical TreasuryAlertLevel = "BALANCE_CRITICAL"
	AlertSingleTxWarning TreasuryAlertLevel = "SINGLE_TX_WARNING"
	AlertDrainCritical   TreasuryAlertLevel = "DRAIN_CRITICAL"
)

// TreasuryAlert is a de-duplicated notification raised by the monitor.
type TreasuryAlert struct {
	ID       string
	TenantID string
	Level    TreasuryAlertLevel
	Detail   string
	RaisedAt time.Time
}

// TreasuryThresholds are the configurable crossing points, in native units.
type TreasuryThresholds struct {
	BalanceWarning  float64
	BalanceCritical float64
	SingleTxWarning float64
	DrainCritical1h float64
}

// DefaultTreasuryThresholds are the out-of-the-box warning/critical levels.
func DefaultTreasuryThresholds() TreasuryThresholds {
	return TreasuryThresholds{
		BalanceWarning:  1.0,
		BalanceCritical: 0.1,
		SingleTxWarning: 0.5,
		DrainCritical1h: 2.0,
	}
}

// TreasuryRepository persists outgoing transactions and raised alerts for
// audit purposes, distinct from the in-process sliding window the monitor
// keeps for fast threshold evaluation.
type TreasuryRepository interface {
	InsertTransaction(ctx context.Context, tx *TreasuryTransaction) error
	InsertAlert(ctx context.Context, alert *TreasuryAlert) error
}

// AlertDispatcher delivers a raised alert to an operator-facing channel.
// Best-effort: dispatch failures are logged, never fatal to the transfer
// that triggered them.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *TreasuryAlert) error
}
