package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pannpers/go-logging/logging"
	"github.com/slack-go/slack"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/pkg/throttle"
)

// webhookInterval spaces webhook posts to stay under Slack's one-message-
// per-second incoming-webhook limit even during an alert storm.
const webhookInterval = time.Second

// webhookQueueDepth bounds how many alerts may wait on the throttler; the
// monitor's own dedup keeps real volume far below this.
const webhookQueueDepth = 32

// SlackDispatcher posts treasury alerts to an operator-configured Slack
// incoming webhook. Only the webhook surface of the Slack library is used;
// no bot token or channel membership is required. Posts are throttled to
// the webhook rate limit.
type SlackDispatcher struct {
	webhookURL string
	throttler  *throttle.Throttler
}

var _ entity.AlertDispatcher = (*SlackDispatcher)(nil)

// NewSlackDispatcher builds a dispatcher posting to webhookURL. Call Close
// to stop the throttler's worker goroutine.
func NewSlackDispatcher(webhookURL string) *SlackDispatcher {
	return &SlackDispatcher{
		webhookURL: webhookURL,
		throttler:  throttle.New(webhookInterval, webhookQueueDepth),
	}
}

// Dispatch posts alert as a formatted webhook message.
func (d *SlackDispatcher) Dispatch(ctx context.Context, alert *entity.TreasuryAlert) error {
	return d.throttler.Do(ctx, func() error {
		return slack.PostWebhookContext(ctx, d.webhookURL, &slack.WebhookMessage{
			Text: fmt.Sprintf(":rotating_light: *%s* — tenant `%s`\n%s", alert.Level, alert.TenantID, alert.Detail),
		})
	})
}

// Close stops the dispatch throttler.
func (d *SlackDispatcher) Close() error {
	d.throttler.Close()
	return nil
}

// LogDispatcher is the fallback when no webhook is configured: alerts are
// still recorded at Warn so a deployment without Slack wiring does not
// silently drop them.
type LogDispatcher struct {
	logger *logging.Logger
}

var _ entity.AlertDispatcher = (*LogDispatcher)(nil)

// NewLogDispatcher builds a logger-backed dispatcher.
func NewLogDispatcher(logger *logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the alert.
func (d *LogDispatcher) Dispatch(ctx context.Context, alert *entity.TreasuryAlert) error {
	d.logger.Warn(ctx, "treasury alert raised",
		slog.String("level", string(alert.Level)),
		slog.String("tenant_id", alert.TenantID),
		slog.String("detail", alert.Detail),
	)
	return nil
}
