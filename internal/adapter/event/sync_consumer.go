// Package event provides Watermill event consumers for the consumer
// process.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/messaging"
	"github.com/ticketcore/scancore/internal/usecase"
)

// BlockchainSyncRequestedData is the payload carried on the
// event.blockchain_sync_requested topic.
type BlockchainSyncRequestedData struct {
	EventID        string               `json:"event_id"`
	Action         string               `json:"action"`
	BlockchainData BlockchainSyncFields `json:"blockchain_data"`
	Metadata       BlockchainSyncMeta   `json:"metadata"`
	RequestedAt    time.Time            `json:"requested_at"`
}

// BlockchainSyncFields carries the action-specific payload. Only the
// fields this core's two actions (CREATE_EVENT, MINT_TICKET) consume are
// modeled; unrecognized actions are rejected rather than silently ignored.
type BlockchainSyncFields struct {
	VenueID        string    `json:"venue_id,omitempty"`
	StartTime      time.Time `json:"start_time,omitempty"`
	EndTime        time.Time `json:"end_time,omitempty"`
	TicketID       string    `json:"ticket_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// BlockchainSyncMeta is the CloudEvents-adjacent metadata block attached to
// every blockchain_sync_requested message.
type BlockchainSyncMeta struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

const (
	actionCreateEvent = "CREATE_EVENT"
	actionMintTicket  = "MINT_TICKET"
)

// SyncConsumer handles event.blockchain_sync_requested messages: it
// maintains the event projection this core reads for temporal checks
// (CREATE_EVENT) and drives the Mint Orchestrator (MINT_TICKET). The
// router wrapping this handler (messaging.NewRouter) already retries a
// failed Handle up to 3 times with exponential backoff before routing the
// message to the poison queue, so Handle itself only needs to return an
// error to trigger that path; it never requeues manually.
type SyncConsumer struct {
	events entity.EventRepository
	mintUC usecase.MintUseCase
	logger *logging.Logger
}

// NewSyncConsumer creates a new SyncConsumer.
func NewSyncConsumer(events entity.EventRepository, mintUC usecase.MintUseCase, logger *logging.Logger) *SyncConsumer {
	return &SyncConsumer{events: events, mintUC: mintUC, logger: logger}
}

// Handle processes a single event.blockchain_sync_requested message.
func (c *SyncConsumer) Handle(msg *message.Message) error {
	ctx := context.Background()

	var data BlockchainSyncRequestedData
	if err := messaging.ParseCloudEventData(msg, &data); err != nil {
		c.logger.Error(ctx, "failed to parse blockchain_sync_requested event", err)
		return fmt.Errorf("parse blockchain_sync_requested event: %w", err)
	}

	c.logger.Info(ctx, "processing blockchain_sync_requested event",
		slog.String("event_id", data.EventID),
		slog.String("action", data.Action),
		slog.String("tenant_id", data.Metadata.TenantID),
	)

	switch data.Action {
	case actionCreateEvent:
		ev := &entity.Event{
			ID:        data.EventID,
			TenantID:  data.Metadata.TenantID,
			VenueID:   data.BlockchainData.VenueID,
			StartTime: data.BlockchainData.StartTime,
			EndTime:   data.BlockchainData.EndTime,
		}
		if err := c.events.Upsert(ctx, ev); err != nil {
			return fmt.Errorf("upsert event projection %s: %w", data.EventID, err)
		}
		return nil

	case actionMintTicket:
		ticketID := data.BlockchainData.TicketID
		if ticketID == "" {
			return fmt.Errorf("blockchain_sync_requested action %s missing ticket_id", actionMintTicket)
		}
		if _, err := c.mintUC.Mint(ctx, ticketID, data.Metadata.TenantID, data.BlockchainData.IdempotencyKey); err != nil {
			return fmt.Errorf("mint ticket %s: %w", ticketID, err)
		}
		return nil

	default:
		return fmt.Errorf("unrecognized blockchain_sync_requested action %q", data.Action)
	}
}

// PoisonHandler reports terminal delivery failure back to the owning event
// service once the router's retry middleware has exhausted its 3 retries
// and routed a message to the poison queue. It never returns a retryable
// error itself: a failure to reach the callback is logged and the poison
// message is still ACKed, since redelivering it would only repeat the
// original failure.
type PoisonHandler struct {
	callback entity.EventStatusCallback
	logger   *logging.Logger
}

// NewPoisonHandler creates a new PoisonHandler.
func NewPoisonHandler(callback entity.EventStatusCallback, logger *logging.Logger) *PoisonHandler {
	return &PoisonHandler{callback: callback, logger: logger}
}

// Handle processes a message the router gave up retrying.
func (h *PoisonHandler) Handle(msg *message.Message) error {
	ctx := context.Background()

	var data BlockchainSyncRequestedData
	if err := messaging.ParseCloudEventData(msg, &data); err != nil {
		h.logger.Error(ctx, "failed to parse poisoned blockchain_sync_requested event", err)
		return nil
	}

	detail := map[string]string{
		"action":    data.Action,
		"tenant_id": data.Metadata.TenantID,
	}
	if err := h.callback.ReportStatus(ctx, data.EventID, "failed", detail); err != nil {
		h.logger.Error(ctx, "failed to report terminal blockchain_sync_requested failure",
			err, slog.String("event_id", data.EventID))
	}
	return nil
}
