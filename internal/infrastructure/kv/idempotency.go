package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

// IdempotencyKeyPrefix namespaces idempotency keys within the shared store.
const IdempotencyKeyPrefix = "idem:"

// wireEntry is the JSON representation stored in the KV, mirroring
// entity.IdempotencyEntry but with a plain string recovery point so it
// round-trips through encoding/json without a custom marshaler.
type wireEntry struct {
	Key           string `json:"key"`
	TenantID      string `json:"tenant_id"`
	Status        string `json:"status"`
	Response      []byte `json:"response,omitempty"`
	RecoveryPoint string `json:"recovery_point,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
}

func toWire(e *entity.IdempotencyEntry) wireEntry {
	w := wireEntry{
		Key:       e.Key,
		TenantID:  e.TenantID,
		Status:    string(e.Status),
		Response:  e.Response,
		ExpiresAt: e.ExpiresAt.Unix(),
	}
	if e.RecoveryPoint != nil {
		w.RecoveryPoint = string(*e.RecoveryPoint)
	}
	return w
}

func (w wireEntry) toEntity() *entity.IdempotencyEntry {
	e := &entity.IdempotencyEntry{
		Key:       w.Key,
		TenantID:  w.TenantID,
		Status:    entity.IdempotencyStatus(w.Status),
		Response:  w.Response,
		ExpiresAt: time.Unix(w.ExpiresAt, 0),
	}
	if w.RecoveryPoint != "" {
		p := entity.RecoveryPoint(w.RecoveryPoint)
		e.RecoveryPoint = &p
	}
	return e
}

// IdempotencyStore implements entity.IdempotencyStore over the shared KV Store.
type IdempotencyStore struct {
	store Store
}

// NewIdempotencyStore builds an IdempotencyStore. Pass a Degraded store so
// callers keep process-local correctness during a KV outage.
func NewIdempotencyStore(store Store) *IdempotencyStore {
	return &IdempotencyStore{store: store}
}

var _ entity.IdempotencyStore = (*IdempotencyStore)(nil)

func idemKey(tenantID, key string) string {
	return IdempotencyKeyPrefix + tenantID + ":" + key
}

func (s *IdempotencyStore) Begin(ctx context.Context, tenantID, key string) (*entity.IdempotencyEntry, bool, error) {
	entry := &entity.IdempotencyEntry{
		Key:       key,
		TenantID:  tenantID,
		Status:    entity.IdempotencyProcessing,
		ExpiresAt: time.Now().Add(entity.IdempotencyTTL),
	}

	payload, err := json.Marshal(toWire(entry))
	if err != nil {
		return nil, false, apperr.Wrap(err, codes.Internal, "marshal idempotency entry")
	}

	created, err := s.store.SetIfAbsent(ctx, idemKey(tenantID, key), payload, entity.IdempotencyTTL)
	if err != nil {
		return nil, false, apperr.Wrap(err, codes.Unavailable, "idempotency begin failed")
	}
	if created {
		return entry, true, nil
	}

	existing, err := s.Get(ctx, tenantID, key)
	if err != nil {
		return nil, false, err
	}
	switch existing.Status {
	case entity.IdempotencyCompleted:
		telemetry.IdempotencyReplayedTotal.Inc()
	case entity.IdempotencyProcessing:
		telemetry.IdempotencyProcessingTotal.Inc()
	}
	return existing, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, tenantID, key string, response []byte, point entity.RecoveryPoint) error {
	entry := &entity.IdempotencyEntry{
		Key:           key,
		TenantID:      tenantID,
		Status:        entity.IdempotencyCompleted,
		Response:      response,
		RecoveryPoint: &point,
		ExpiresAt:     time.Now().Add(entity.IdempotencyTTL),
	}
	payload, err := json.Marshal(toWire(entry))
	if err != nil {
		return apperr.Wrap(err, codes.Internal, "marshal idempotency entry")
	}
	if err := s.store.Set(ctx, idemKey(tenantID, key), payload, entity.IdempotencyTTL); err != nil {
		return apperr.Wrap(err, codes.Unavailable, "idempotency complete failed")
	}
	telemetry.IdempotencyCompletedTotal.Inc()
	return nil
}

func (s *IdempotencyStore) Fail(ctx context.Context, tenantID, key string) error {
	entry := &entity.IdempotencyEntry{
		Key:       key,
		TenantID:  tenantID,
		Status:    entity.IdempotencyFailed,
		ExpiresAt: time.Now().Add(entity.IdempotencyTTL),
	}
	payload, err := json.Marshal(toWire(entry))
	if err != nil {
		return apperr.Wrap(err, codes.Internal, "marshal idempotency entry")
	}
	if err := s.store.Set(ctx, idemKey(tenantID, key), payload, entity.IdempotencyTTL); err != nil {
		return apperr.Wrap(err, codes.Unavailable, "idempotency fail failed")
	}
	telemetry.IdempotencyFailedTotal.Inc()
	return nil
}

// Clear deletes an entry outright. Used by the Mint Orchestrator when a
// failed entry is found and a fresh attempt should start from scratch.
func (s *IdempotencyStore) Clear(ctx context.Context, tenantID, key string) error {
	if err := s.store.Delete(ctx, idemKey(tenantID, key)); err != nil {
		return apperr.Wrap(err, codes.Unavailable, "idempotency clear failed")
	}
	return nil
}

func (s *IdempotencyStore) Get(ctx context.Context, tenantID, key string) (*entity.IdempotencyEntry, error) {
	raw, found, err := s.store.Get(ctx, idemKey(tenantID, key))
	if err != nil {
		return nil, apperr.Wrap(err, codes.Unavailable, "idempotency get failed")
	}
	if !found {
		return nil, apperr.New(codes.NotFound, "idempotency entry not found")
	}
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, apperr.Wrap(err, codes.Internal, "unmarshal idempotency entry")
	}
	return w.toEntity(), nil
}
