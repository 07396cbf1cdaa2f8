package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/ticketcore/scancore/internal/entity"
)

// RecoveryKeyPrefix namespaces recovery-state keys within the shared store.
const RecoveryKeyPrefix = "recovery:"

type wireRecoveryState struct {
	JobID         string  `json:"job_id"`
	TicketID      string  `json:"ticket_id"`
	TenantID      string  `json:"tenant_id"`
	CurrentPoint  string  `json:"current_point"`
	PreviousPoint string  `json:"previous_point,omitempty"`
	RetryCount    int     `json:"retry_count"`
	StartedAt     int64   `json:"started_at"`
	UpdatedAt     int64   `json:"updated_at"`
	MetadataURI   *string `json:"metadata_uri,omitempty"`
	Signature     *string `json:"signature,omitempty"`
	MintAddress   *string `json:"mint_address,omitempty"`
	Error         *string `json:"error,omitempty"`
}

func recoveryToWire(s *entity.RecoveryState) wireRecoveryState {
	w := wireRecoveryState{
		JobID:        s.JobID,
		TicketID:     s.TicketID,
		TenantID:     s.TenantID,
		CurrentPoint: string(s.CurrentPoint),
		RetryCount:   s.RetryCount,
		StartedAt:    s.StartedAt.Unix(),
		UpdatedAt:    s.UpdatedAt.Unix(),
		MetadataURI:  s.Metadata.MetadataURI,
		Signature:    s.Metadata.Signature,
		MintAddress:  s.Metadata.MintAddress,
		Error:        s.Metadata.Error,
	}
	if s.PreviousPoint != nil {
		w.PreviousPoint = string(*s.PreviousPoint)
	}
	return w
}

func (w wireRecoveryState) toEntity() *entity.RecoveryState {
	s := &entity.RecoveryState{
		JobID:        w.JobID,
		TicketID:     w.TicketID,
		TenantID:     w.TenantID,
		CurrentPoint: entity.RecoveryPoint(w.CurrentPoint),
		RetryCount:   w.RetryCount,
		StartedAt:    time.Unix(w.StartedAt, 0),
		UpdatedAt:    time.Unix(w.UpdatedAt, 0),
		Metadata: entity.RecoveryMetadata{
			MetadataURI: w.MetadataURI,
			Signature:   w.Signature,
			MintAddress: w.MintAddress,
			Error:       w.Error,
		},
	}
	if w.PreviousPoint != "" {
		p := entity.RecoveryPoint(w.PreviousPoint)
		s.PreviousPoint = &p
	}
	return s
}

// RecoveryStore implements entity.RecoveryStore over the shared KV Store.
type RecoveryStore struct {
	store Store
}

// NewRecoveryStore builds a RecoveryStore. Pass a Degraded store so callers
// keep process-local correctness during a KV outage.
func NewRecoveryStore(store Store) *RecoveryStore {
	return &RecoveryStore{store: store}
}

var _ entity.RecoveryStore = (*RecoveryStore)(nil)

func recoveryKey(jobID string) string {
	return RecoveryKeyPrefix + jobID
}

func (s *RecoveryStore) Save(ctx context.Context, state *entity.RecoveryState) error {
	state.UpdatedAt = time.Now()
	payload, err := json.Marshal(recoveryToWire(state))
	if err != nil {
		return apperr.Wrap(err, codes.Internal, "marshal recovery state")
	}
	if err := s.store.Set(ctx, recoveryKey(state.JobID), payload, entity.RecoveryTTL); err != nil {
		return apperr.Wrap(err, codes.Unavailable, "recovery save failed")
	}
	return nil
}

func (s *RecoveryStore) Load(ctx context.Context, jobID string) (*entity.RecoveryState, error) {
	raw, found, err := s.store.Get(ctx, recoveryKey(jobID))
	if err != nil {
		return nil, apperr.Wrap(err, codes.Unavailable, "recovery load failed")
	}
	if !found {
		return nil, apperr.New(codes.NotFound, "recovery state not found")
	}
	var w wireRecoveryState
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, apperr.Wrap(err, codes.Internal, "unmarshal recovery state")
	}
	return w.toEntity(), nil
}

func (s *RecoveryStore) Delete(ctx context.Context, jobID string) error {
	if err := s.store.Delete(ctx, recoveryKey(jobID)); err != nil {
		return apperr.Wrap(err, codes.Unavailable, "recovery delete failed")
	}
	return nil
}
