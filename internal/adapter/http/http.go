// Package http wires the Scan Decider, Offline Manifest Builder, and Mint
// Orchestrator to a chi.Router. Routing and request parsing are left to
// external collaborators; this package is limited to method+path
// registration, Idempotency-Key / auth context extraction, and response
// shaping (status codes, Problem-Details body, bulkhead headers).
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/auth"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
	"github.com/ticketcore/scancore/internal/usecase"
	"github.com/ticketcore/scancore/pkg/problem"
)

// Handler holds the usecases and bulkheads the routes dispatch into.
type Handler struct {
	scan     usecase.ScanUseCase
	manifest entity.ManifestBuilder
	mint     usecase.MintUseCase
	anomaly  *usecase.AnomalyUseCase

	scanBulkhead *resilience.Bulkhead
	mintBulkhead *resilience.Bulkhead

	logger *logging.Logger
}

// NewHandler builds a Handler. Bulkhead capacities come from
// resilience.DefaultBulkheadCapacities unless the caller substitutes its
// own (tests use small capacities to exercise rejection paths). anomaly may
// be nil, in which case scans are never observed for anomalies.
func NewHandler(scan usecase.ScanUseCase, manifest entity.ManifestBuilder, mint usecase.MintUseCase, anomaly *usecase.AnomalyUseCase, scanBulkhead, mintBulkhead *resilience.Bulkhead, logger *logging.Logger) *Handler {
	return &Handler{scan: scan, manifest: manifest, mint: mint, anomaly: anomaly, scanBulkhead: scanBulkhead, mintBulkhead: mintBulkhead, logger: logger}
}

// Mount registers the inbound decision API onto r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/scan", h.postScan)
	r.Post("/offline/manifest", h.postOfflineManifest)
	r.Post("/mint", h.postMint)
}

type scanRequest struct {
	QR       string `json:"qr"`
	DeviceID string `json:"device_id"`
}

type scanResponse struct {
	Valid            bool   `json:"valid"`
	Result           string `json:"result"`
	Reason           string `json:"reason"`
	Message          string `json:"message"`
	Ticket           string `json:"ticket,omitempty"`
	ScanCount        int    `json:"scan_count,omitempty"`
	MinutesRemaining int    `json:"minutes_remaining,omitempty"`
}

func (h *Handler) postScan(w http.ResponseWriter, r *http.Request) {
	release, err := h.scanBulkhead.Acquire(r.Context())
	if err != nil {
		h.writeBulkheadRejection(w, r, err)
		return
	}
	defer release()

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteJSON(w, problem.From(apperr.Wrap(err, codes.InvalidArgument, "malformed scan request body"), r.URL.Path))
		return
	}

	staff, _ := auth.StaffContextFromContext(r.Context())
	result, err := h.scan.Decide(r.Context(), &usecase.DecideParams{
		QRPayload: req.QR,
		DeviceID:  req.DeviceID,
		Staff:     staff,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.observeAnomaly(r.Context(), req, result)

	writeJSON(w, http.StatusOK, scanResponse{
		Valid:            result.Result == entity.ScanResultAllow,
		Result:           string(result.Result),
		Reason:           string(result.Reason),
		Message:          messageFor(result.Reason),
		Ticket:           result.SuccessorTicket,
		ScanCount:        result.ScanCount,
		MinutesRemaining: result.MinutesRemaining,
	})
}

// observeAnomaly feeds the just-recorded scan to the Anomaly Detector in
// the background. It runs detached from the request context so a client
// disconnect never cuts the observation short, and never blocks or alters
// the scan response.
func (h *Handler) observeAnomaly(ctx context.Context, req scanRequest, result *usecase.DecideResult) {
	if h.anomaly == nil || result.TicketID == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	go h.anomaly.Observe(detached, &entity.ScanEvent{
		ID:        uuid.NewString(),
		TicketID:  result.TicketID,
		DeviceID:  req.DeviceID,
		TenantID:  result.TenantID,
		Result:    result.Result,
		Reason:    result.Reason,
		ScannedAt: time.Now(),
	})
}

type manifestRequest struct {
	EventID  string `json:"event_id"`
	DeviceID string `json:"device_id"`
}

func (h *Handler) postOfflineManifest(w http.ResponseWriter, r *http.Request) {
	var req manifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteJSON(w, problem.From(apperr.Wrap(err, codes.InvalidArgument, "malformed manifest request body"), r.URL.Path))
		return
	}

	m, err := h.manifest.Generate(r.Context(), req.EventID, req.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

type mintRequest struct {
	TicketID string `json:"ticket_id"`
}

func (h *Handler) postMint(w http.ResponseWriter, r *http.Request) {
	release, err := h.mintBulkhead.Acquire(r.Context())
	if err != nil {
		h.writeBulkheadRejection(w, r, err)
		return
	}
	defer release()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if len(idempotencyKey) < 16 || len(idempotencyKey) > 128 {
		problem.WriteJSON(w, problem.From(apperr.New(codes.InvalidArgument, "Idempotency-Key header must be 16-128 characters"), r.URL.Path))
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteJSON(w, problem.From(apperr.Wrap(err, codes.InvalidArgument, "malformed mint request body"), r.URL.Path))
		return
	}

	staff, ok := auth.StaffContextFromContext(r.Context())
	if !ok || staff == nil {
		problem.WriteJSON(w, problem.From(apperr.New(codes.Unauthenticated, "mint requires an authenticated staff principal"), r.URL.Path))
		return
	}

	result, err := h.mint.Mint(r.Context(), req.TicketID, staff.TenantID, idempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if result.Replayed {
		w.Header().Set("X-Idempotent-Replayed", "true")
		w.Header().Set("X-Idempotent-Original-Request-Id", result.JobID)
		w.Header().Set("X-Idempotent-Recovery-Point", string(result.Status))
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": result.JobID})
}

func (h *Handler) writeBulkheadRejection(w http.ResponseWriter, r *http.Request, err error) {
	if rejected, ok := err.(*resilience.RejectedError); ok {
		d := problem.From(rejected, r.URL.Path)
		d.RetryAfterSeconds = int(rejected.RetryAfter.Seconds())
		d.BulkheadType = string(rejected.Category)
		problem.WriteJSON(w, d)
		return
	}
	h.writeError(w, r, err)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn(r.Context(), "http: request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	problem.WriteJSON(w, problem.From(err, r.URL.Path))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// messageFor gives the human-readable companion to a ScanReason, for the
// response's free-text "message" field.
func messageFor(reason entity.ScanReason) string {
	switch reason {
	case entity.ReasonAllowed:
		return "ticket accepted"
	case entity.ReasonQRExpired:
		return "QR code has expired"
	case entity.ReasonQRAlreadyUsed:
		return "QR code has already been used"
	case entity.ReasonInvalidQR:
		return "QR code is invalid"
	case entity.ReasonUnauthorizedDevice:
		return "device is not authorized to scan"
	case entity.ReasonUnauthorized:
		return "staff member is not authorized for this venue"
	case entity.ReasonVenueMismatch, entity.ReasonWrongVenue:
		return "ticket does not belong to this venue"
	case entity.ReasonTicketNotFound:
		return "ticket not found"
	case entity.ReasonTicketRefunded:
		return "ticket has been refunded"
	case entity.ReasonTicketCancelled:
		return "ticket has been cancelled"
	case entity.ReasonTicketTransferred:
		return "ticket has been transferred"
	case entity.ReasonInvalidStatus:
		return "ticket is not in a scannable state"
	case entity.ReasonEventNotStarted:
		return "event has not started yet"
	case entity.ReasonEventEnded:
		return "event has ended"
	case entity.ReasonTicketNotYetValid:
		return "ticket is not yet valid"
	case entity.ReasonTicketExpired:
		return "ticket has expired"
	case entity.ReasonWrongZone:
		return "ticket is not valid for this zone"
	case entity.ReasonNoReentry, entity.ReasonReentryDisabled:
		return "re-entry is not permitted for this ticket"
	case entity.ReasonMaxReentriesReached:
		return "maximum re-entries reached"
	case entity.ReasonCooldownActive:
		return "re-entry cooldown still active"
	case entity.ReasonSystemError:
		return "scan could not be processed"
	default:
		return ""
	}
}
