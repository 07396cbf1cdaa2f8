package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

const (
	rapidRescanWindow  = 5 * time.Second
	rapidRescanMin     = 3
	multiDeviceWindow  = 60 * time.Second
	multiDeviceMin     = 2
	offHoursStart      = 2
	offHoursEnd        = 5
	patternWindow      = time.Hour
	patternMinTotal    = 10
	patternDenialRatio = 0.5
)

// AnomalyUseCase runs the four detector heuristics after every scan
// decision and escalates composite findings that cross the threshold.
type AnomalyUseCase struct {
	scans    entity.ScanEventRepository
	findings entity.FindingRepository
	txRunner entity.TxRunner
	logger   *logging.Logger
}

// NewAnomalyUseCase builds an AnomalyUseCase.
func NewAnomalyUseCase(scans entity.ScanEventRepository, findings entity.FindingRepository, txRunner entity.TxRunner, logger *logging.Logger) *AnomalyUseCase {
	return &AnomalyUseCase{scans: scans, findings: findings, txRunner: txRunner, logger: logger}
}

// Observe runs every detector against ev's ticket and device, in parallel,
// and persists a composite finding if the resulting score crosses
// entity.AnomalyScoreThreshold. Called after a scan decision has already
// been committed; failures here never affect the scan's own response.
func (uc *AnomalyUseCase) Observe(ctx context.Context, ev *entity.ScanEvent) {
	var findings []entity.AnomalyFinding
	err := uc.txRunner.RunInTx(ctx, ev.TenantID, func(ctx context.Context) error {
		findings = uc.runDetectors(ctx, ev)
		return nil
	})
	if err != nil {
		uc.logger.Error(ctx, "anomaly detection query failed", err, slog.String("ticket_id", ev.TicketID))
		return
	}
	if len(findings) == 0 {
		return
	}

	score := compositeScore(findings)
	if score <= entity.AnomalyScoreThreshold {
		return
	}

	uc.logger.Warn(ctx, "anomaly score crossed escalation threshold",
		slog.String("ticket_id", ev.TicketID),
		slog.String("device_id", ev.DeviceID),
		slog.Int("score", score),
	)
	if err := uc.findings.Insert(ctx, ev.TicketID, ev.TenantID, score, findings, ev.ScannedAt); err != nil {
		uc.logger.Error(ctx, "failed to persist anomaly finding", err, slog.String("ticket_id", ev.TicketID))
		return
	}
	for _, f := range findings {
		telemetry.AnomalyFindingsTotal.WithLabelValues(string(f.Detector)).Inc()
	}
}

func (uc *AnomalyUseCase) runDetectors(ctx context.Context, ev *entity.ScanEvent) []entity.AnomalyFinding {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []entity.AnomalyFinding
	)
	add := func(f *entity.AnomalyFinding) {
		if f == nil {
			return
		}
		mu.Lock()
		results = append(results, *f)
		mu.Unlock()
	}

	wg.Add(4)
	go func() { defer wg.Done(); add(uc.rapidRescan(ctx, ev)) }()
	go func() { defer wg.Done(); add(uc.multiDevice(ctx, ev)) }()
	go func() { defer wg.Done(); add(offHours(ev)) }()
	go func() { defer wg.Done(); add(uc.pattern(ctx, ev)) }()
	wg.Wait()

	return results
}

func (uc *AnomalyUseCase) rapidRescan(ctx context.Context, ev *entity.ScanEvent) *entity.AnomalyFinding {
	since := ev.ScannedAt.Add(-rapidRescanWindow)
	recent, err := uc.scans.RecentForTicket(ctx, ev.TicketID, since)
	if err != nil {
		uc.logger.Error(ctx, "rapid-rescan detector query failed", err)
		return nil
	}
	if len(recent) <= rapidRescanMin {
		return nil
	}
	devices := map[string]struct{}{}
	for _, r := range recent {
		devices[r.DeviceID] = struct{}{}
	}
	severity := entity.SeverityHigh
	if len(devices) > 1 {
		severity = entity.SeverityCritical
	}
	return &entity.AnomalyFinding{
		Detector: entity.DetectorRapidRescan,
		Severity: severity,
		Detail:   "ticket scanned more than 3 times within 5 seconds",
	}
}

func (uc *AnomalyUseCase) multiDevice(ctx context.Context, ev *entity.ScanEvent) *entity.AnomalyFinding {
	since := ev.ScannedAt.Add(-multiDeviceWindow)
	recent, err := uc.scans.RecentForTicket(ctx, ev.TicketID, since)
	if err != nil {
		uc.logger.Error(ctx, "multi-device detector query failed", err)
		return nil
	}
	devices := map[string]struct{}{}
	for _, r := range recent {
		devices[r.DeviceID] = struct{}{}
	}
	if len(devices) <= multiDeviceMin {
		return nil
	}
	return &entity.AnomalyFinding{
		Detector: entity.DetectorMultiDevice,
		Severity: entity.SeverityHigh,
		Detail:   "ticket scanned from more than 2 devices within 60 seconds",
	}
}

func offHours(ev *entity.ScanEvent) *entity.AnomalyFinding {
	hour := ev.ScannedAt.Local().Hour()
	if hour < offHoursStart || hour >= offHoursEnd {
		return nil
	}
	return &entity.AnomalyFinding{
		Detector: entity.DetectorOffHours,
		Severity: entity.SeverityLow,
		Detail:   "scan occurred during off-hours window",
	}
}

func (uc *AnomalyUseCase) pattern(ctx context.Context, ev *entity.ScanEvent) *entity.AnomalyFinding {
	since := ev.ScannedAt.Add(-patternWindow)
	recent, err := uc.scans.RecentForDevice(ctx, ev.DeviceID, since)
	if err != nil {
		uc.logger.Error(ctx, "pattern detector query failed", err)
		return nil
	}
	if len(recent) < patternMinTotal {
		return nil
	}
	var denied int
	for _, r := range recent {
		if r.Result == entity.ScanResultDeny {
			denied++
		}
	}
	ratio := float64(denied) / float64(len(recent))
	if ratio <= patternDenialRatio {
		return nil
	}
	return &entity.AnomalyFinding{
		Detector: entity.DetectorPattern,
		Severity: entity.SeverityMedium,
		Detail:   "device denial rate exceeded 50% over the last hour",
	}
}

// compositeScore implements round(0.7*max + 0.3*mean), capped at 100.
func compositeScore(findings []entity.AnomalyFinding) int {
	if len(findings) == 0 {
		return 0
	}
	max := 0
	sum := 0
	for _, f := range findings {
		s := f.Severity.Score()
		sum += s
		if s > max {
			max = s
		}
	}
	mean := float64(sum) / float64(len(findings))
	score := int(0.7*float64(max) + 0.3*mean + 0.5)
	if score > 100 {
		score = 100
	}
	return score
}
