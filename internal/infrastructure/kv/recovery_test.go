package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
)

func TestRecoveryStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	recovery := NewRecoveryStore(store)
	ctx := context.Background()

	uri := "ipfs://metadata/1"
	state := &entity.RecoveryState{
		JobID:        "job-1",
		TicketID:     "T1",
		TenantID:     "tenant-a",
		CurrentPoint: entity.RecoveryMetadataUploaded,
		RetryCount:   0,
		StartedAt:    time.Now().Add(-time.Minute),
		Metadata: entity.RecoveryMetadata{
			MetadataURI: &uri,
		},
	}
	require.NoError(t, recovery.Save(ctx, state))

	got, err := recovery.Load(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryMetadataUploaded, got.CurrentPoint)
	require.Equal(t, "T1", got.TicketID)
	require.NotNil(t, got.Metadata.MetadataURI)
	require.Equal(t, uri, *got.Metadata.MetadataURI)
	require.Nil(t, got.PreviousPoint)
}

func TestRecoveryStore_AdvancePreservesPreviousPoint(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	recovery := NewRecoveryStore(store)
	ctx := context.Background()

	state := &entity.RecoveryState{
		JobID:        "job-2",
		TicketID:     "T2",
		TenantID:     "tenant-a",
		CurrentPoint: entity.RecoveryTxBuilt,
		StartedAt:    time.Now(),
	}
	require.NoError(t, recovery.Save(ctx, state))

	prev := entity.RecoveryTxBuilt
	sig := "0xsig"
	state.PreviousPoint = &prev
	state.CurrentPoint = entity.RecoveryTxSubmitted
	state.Metadata.Signature = &sig
	require.NoError(t, recovery.Save(ctx, state))

	got, err := recovery.Load(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryTxSubmitted, got.CurrentPoint)
	require.NotNil(t, got.PreviousPoint)
	require.Equal(t, entity.RecoveryTxBuilt, *got.PreviousPoint)
	require.Equal(t, sig, *got.Metadata.Signature)
}

func TestRecoveryStore_DeleteThenLoadIsNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	recovery := NewRecoveryStore(store)
	ctx := context.Background()

	state := &entity.RecoveryState{
		JobID:        "job-3",
		TicketID:     "T3",
		TenantID:     "tenant-a",
		CurrentPoint: entity.RecoveryCompleted,
		StartedAt:    time.Now(),
	}
	require.NoError(t, recovery.Save(ctx, state))
	require.NoError(t, recovery.Delete(ctx, "job-3"))

	_, err := recovery.Load(ctx, "job-3")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecoveryStore_LoadMissingIsNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	recovery := NewRecoveryStore(store)
	ctx := context.Background()

	_, err := recovery.Load(ctx, "never-existed")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRecoveryPoint_IsTerminal(t *testing.T) {
	require.True(t, entity.RecoveryCompleted.IsTerminal())
	require.True(t, entity.RecoveryFailed.IsTerminal())
	require.False(t, entity.RecoveryTxSubmitted.IsTerminal())
	require.False(t, entity.RecoveryInitiated.IsTerminal())
}
