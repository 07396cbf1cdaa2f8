package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/stretchr/testify/require"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/kv"
)

type fakeBlockchainTxRepo struct {
	mu   sync.Mutex
	rows map[string]*entity.BlockchainTransaction
}

func newFakeBlockchainTxRepo() *fakeBlockchainTxRepo {
	return &fakeBlockchainTxRepo{rows: map[string]*entity.BlockchainTransaction{}}
}

func btxKey(ticketID, tenantID string, txType entity.BlockchainTxType) string {
	return ticketID + ":" + tenantID + ":" + string(txType)
}

func (r *fakeBlockchainTxRepo) Upsert(ctx context.Context, tx *entity.BlockchainTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[btxKey(tx.TicketID, tx.TenantID, tx.Type)] = tx
	return nil
}

func (r *fakeBlockchainTxRepo) UpdateStatus(ctx context.Context, ticketID, tenantID string, txType entity.BlockchainTxType, status entity.BlockchainTxStatus, signature *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[btxKey(ticketID, tenantID, txType)]
	if !ok {
		return apperr.New(codes.NotFound, "blockchain tx: no matching row")
	}
	row.Status = status
	row.Signature = signature
	return nil
}

func (r *fakeBlockchainTxRepo) Get(ctx context.Context, ticketID, tenantID string, txType entity.BlockchainTxType) (*entity.BlockchainTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[btxKey(ticketID, tenantID, txType)]
	if !ok {
		return nil, apperr.New(codes.NotFound, "blockchain tx: no matching row")
	}
	return row, nil
}

type fakeWalletRepo struct {
	wallets map[string]*entity.CustodialWallet
}

func (r *fakeWalletRepo) GetByUser(ctx context.Context, userID, tenantID string) (*entity.CustodialWallet, error) {
	for _, w := range r.wallets {
		if w.UserID == userID && w.TenantID == tenantID {
			return w, nil
		}
	}
	return nil, apperr.New(codes.NotFound, "wallet: no matching row")
}

func (r *fakeWalletRepo) Create(ctx context.Context, wallet *entity.CustodialWallet, key *entity.WalletKey) error {
	r.wallets[wallet.ID] = wallet
	return nil
}

func (r *fakeWalletRepo) GetKey(ctx context.Context, walletID string) (*entity.WalletKey, error) {
	return &entity.WalletKey{WalletID: walletID}, nil
}

func (r *fakeWalletRepo) GetByID(ctx context.Context, walletID string) (*entity.CustodialWallet, error) {
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.New(codes.NotFound, "wallet: no matching row")
	}
	return w, nil
}

func (r *fakeWalletRepo) RecordAccess(ctx context.Context, walletID string, accessedAt time.Time, reason string) error {
	return nil
}

func (r *fakeWalletRepo) UpdateStatus(ctx context.Context, walletID string, status entity.WalletStatus) error {
	if w, ok := r.wallets[walletID]; ok {
		w.Status = status
	}
	return nil
}

// fakeChainAdapter drives the happy path deterministically; its Confirm
// result is configurable so tests can force a timeout/failure mid-flight.
type fakeChainAdapter struct {
	confirmStatus entity.BlockchainTxStatus
	confirmErr    error
	submitErr     error
	buildErr      error
	submitCalls   int
}

func (c *fakeChainAdapter) Estimate(ctx context.Context, instructions entity.TxInstructions, urgency entity.Urgency) (*entity.FeeEstimate, error) {
	return &entity.FeeEstimate{ComputeUnits: 200_000, PriorityFeeMicro: 1_000, Simulated: true}, nil
}

func (c *fakeChainAdapter) Build(ctx context.Context, instructions entity.TxInstructions, estimate *entity.FeeEstimate, signer string) (*entity.UnsignedTx, error) {
	if c.buildErr != nil {
		return nil, c.buildErr
	}
	return &entity.UnsignedTx{Instructions: instructions, Blockhash: "bh-1", ComputeUnits: estimate.ComputeUnits}, nil
}

func (c *fakeChainAdapter) Submit(ctx context.Context, tx *entity.SignedTx) (string, error) {
	c.submitCalls++
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return "sig-1", nil
}

func (c *fakeChainAdapter) Confirm(ctx context.Context, signature string, commitment entity.Commitment, timeout time.Duration) (*entity.TxConfirmation, error) {
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}
	status := c.confirmStatus
	if status == "" {
		status = entity.BlockchainTxConfirmed
	}
	return &entity.TxConfirmation{Status: status}, nil
}

func (c *fakeChainAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	return 100, nil
}

type fakeSigner struct {
	err error
}

func (s *fakeSigner) Sign(ctx context.Context, tx *entity.UnsignedTx, walletID string, reason string) (*entity.SignedTx, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &entity.SignedTx{UnsignedTx: *tx, Signature: "raw-sig"}, nil
}

type fakeMetadataUploader struct {
	err error
}

func (m *fakeMetadataUploader) Upload(ctx context.Context, ticketID string, metadata map[string]string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "ipfs://metadata/" + ticketID, nil
}

type fakeDLQRepo struct {
	mu    sync.Mutex
	items []*entity.DLQItem
}

func (r *fakeDLQRepo) Insert(ctx context.Context, item *entity.DLQItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *fakeDLQRepo) DueForRetry(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	return nil, nil
}

func (r *fakeDLQRepo) DueForArchive(ctx context.Context, now time.Time) ([]*entity.DLQItem, error) {
	return nil, nil
}

func (r *fakeDLQRepo) UpdateAfterRetry(ctx context.Context, id string, category entity.DLQCategory, retryCount int, nextRetryAt *time.Time) error {
	return nil
}

func (r *fakeDLQRepo) Archive(ctx context.Context, id string) error { return nil }

// mintHarness bundles every collaborator the Mint Orchestrator needs, with
// the happy-path ticket and wallet pre-seeded.
type mintHarness struct {
	tickets       *fakeTicketRepo
	blockchainTxs *fakeBlockchainTxRepo
	wallets       *fakeWalletRepo
	chain         *fakeChainAdapter
	signer        *fakeSigner
	metadata      *fakeMetadataUploader
	dlqRepo       *fakeDLQRepo
	idempotency   entity.IdempotencyStore
	recovery      entity.RecoveryStore
	lock          *kv.Lock
	store         *kv.MemoryStore
	uc            MintUseCase
}

func newMintHarness(t *testing.T) *mintHarness {
	w := newFakeWorld()
	w.tickets["T1"] = &entity.Ticket{
		ID: "T1", TenantID: "tenant-a", EventID: "E1", VenueID: "V1",
		Status: entity.TicketStatusSold, AccessLevel: entity.AccessLevelGA,
	}

	store := kv.NewMemoryStore(time.Minute)
	t.Cleanup(func() { store.Close() })

	h := &mintHarness{
		tickets:       &fakeTicketRepo{w: w},
		blockchainTxs: newFakeBlockchainTxRepo(),
		wallets:       &fakeWalletRepo{wallets: map[string]*entity.CustodialWallet{"tenant-a": {ID: "tenant-a", UserID: "tenant-a", TenantID: "tenant-a", Address: "addr-tenant-a", Status: entity.WalletActive}}},
		chain:         &fakeChainAdapter{},
		signer:        &fakeSigner{},
		metadata:      &fakeMetadataUploader{},
		dlqRepo:       &fakeDLQRepo{},
		idempotency:   kv.NewIdempotencyStore(store),
		recovery:      kv.NewRecoveryStore(store),
		store:         store,
	}
	h.lock = kv.NewLock(store)
	h.uc = NewMintUseCase(
		h.tickets, h.blockchainTxs, h.wallets, h.signer, h.chain, h.metadata,
		fakeTxRunner{}, h.lock, h.idempotency, h.recovery, h.dlqRepo, testLogger(t),
	)
	return h
}

func TestMintUseCase_HappyPathCompletesAndUpdatesTicket(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryCompleted, result.Status)
	require.Equal(t, "addr-tenant-a", result.MintAddress)
	require.Equal(t, "sig-1", result.Signature)
	require.False(t, result.Replayed)

	ticket, err := h.tickets.Get(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, ticket.MintAddress)
	require.Equal(t, "addr-tenant-a", *ticket.MintAddress)

	// The recovery checkpoint is cleaned up once the job reaches COMPLETED.
	_, err = h.recovery.Load(ctx, result.JobID)
	require.Error(t, err)
}

func TestMintUseCase_AlreadyMintedTicketFailsValidation(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()
	addr := "addr-existing"
	txID := "sig-existing"
	h.tickets.w.tickets["T1"].MintAddress = &addr
	h.tickets.w.tickets["T1"].MintTxID = &txID

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryFailed, result.Status)

	require.Len(t, h.dlqRepo.items, 1)
	require.Equal(t, entity.DLQNonRetryable, h.dlqRepo.items[0].Category)
}

func TestMintUseCase_IdempotencyKeyReplaysCompletedResult(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()
	key := "idem-key-0123456789abcdef"

	first, err := h.uc.Mint(ctx, "T1", "tenant-a", key)
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryCompleted, first.Status)
	require.False(t, first.Replayed)

	second, err := h.uc.Mint(ctx, "T1", "tenant-a", key)
	require.NoError(t, err)
	require.True(t, second.Replayed, "a repeat call with the same idempotency key must short-circuit")

	// The replay carries the original response body, not a fresh/empty one.
	require.Equal(t, first.JobID, second.JobID)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.MintAddress, second.MintAddress)
	require.Equal(t, first.Signature, second.Signature)
}

func TestMintUseCase_ConcurrentCallsSerializeOnTheSameLock(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()

	// Pre-acquire the mint lock to simulate a concurrent in-flight mint for
	// the same ticket; the orchestrator must fail rather than double-submit.
	key := kv.MintLockKey("tenant-a", "T1")
	token, err := h.lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryFailed, result.Status)
	require.Equal(t, 0, h.chain.submitCalls, "a job that never acquires the lock must never reach chain submission")
}

func TestMintUseCase_ConfirmTimeoutIsClassifiedRetryable(t *testing.T) {
	h := newMintHarness(t)
	h.chain.confirmErr = errors.New("transaction confirmation timed out")
	ctx := context.Background()

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryFailed, result.Status)

	require.Len(t, h.dlqRepo.items, 1)
	require.Equal(t, entity.DLQRetryable, h.dlqRepo.items[0].Category)
	require.NotNil(t, h.dlqRepo.items[0].NextRetryAt)
}

func TestMintUseCase_SubmitFailureReleasesLockForRetry(t *testing.T) {
	h := newMintHarness(t)
	h.chain.submitErr = errors.New("insufficient funds for transfer")
	ctx := context.Background()

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	require.Equal(t, entity.RecoveryFailed, result.Status)

	// The lock held during the failed attempt must be released so a
	// corrected retry isn't blocked behind a stale holder.
	key := kv.MintLockKey("tenant-a", "T1")
	token, err := h.lock.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

// seedCrashAfterSubmit reproduces the durable state a mint job leaves
// behind when the process dies right after the TX_SUBMITTED checkpoint: a
// PENDING blockchain_transactions row from Reserve, and a recovery state
// carrying the signature and mint address checkpointed at TX_BUILT.
func seedCrashAfterSubmit(t *testing.T, h *mintHarness, jobID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.blockchainTxs.Upsert(ctx, &entity.BlockchainTransaction{
		TicketID: "T1", TenantID: "tenant-a",
		Type: entity.BlockchainTxMint, Status: entity.BlockchainTxPending,
	}))
	sig := "sig-1"
	addr := "addr-tenant-a"
	uri := "ipfs://metadata/T1"
	require.NoError(t, h.recovery.Save(ctx, &entity.RecoveryState{
		JobID:        jobID,
		TicketID:     "T1",
		TenantID:     "tenant-a",
		CurrentPoint: entity.RecoveryTxSubmitted,
		StartedAt:    time.Now(),
		Metadata:     entity.RecoveryMetadata{Signature: &sig, MintAddress: &addr, MetadataURI: &uri},
	}))
}

// assertResumedOnce asserts the §8 Recovery property after a resumed mint:
// exactly one CONFIRMED MINT row, a non-null mint address on the ticket,
// and no second chain submission.
func assertResumedOnce(t *testing.T, h *mintHarness, result *MintResult) {
	t.Helper()
	ctx := context.Background()

	require.Equal(t, entity.RecoveryCompleted, result.Status)
	require.Equal(t, "addr-tenant-a", result.MintAddress)
	require.Equal(t, "sig-1", result.Signature)
	require.Equal(t, 0, h.chain.submitCalls, "resume from TX_SUBMITTED must never call Submit again")

	row, err := h.blockchainTxs.Get(ctx, "T1", "tenant-a", entity.BlockchainTxMint)
	require.NoError(t, err)
	require.Equal(t, entity.BlockchainTxConfirmed, row.Status)
	require.NotNil(t, row.Signature)
	require.Equal(t, "sig-1", *row.Signature)

	ticket, err := h.tickets.Get(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, ticket.MintAddress)
	require.Equal(t, "addr-tenant-a", *ticket.MintAddress)
	require.NotNil(t, ticket.MintTxID)
}

func TestMintUseCase_ResumesFromLastCheckpointAfterCrash(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()
	key := "idem-key-resume-0123456789"

	// Simulate a crash right after TX_SUBMITTED under an idempotency key:
	// the entry is still PROCESSING and nothing advanced past the
	// checkpoint. The chain observes the transaction as CONFIRMED.
	_, _, err := h.idempotency.Begin(ctx, "tenant-a", key)
	require.NoError(t, err)
	seedCrashAfterSubmit(t, h, key)

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", key)
	require.NoError(t, err)
	assertResumedOnce(t, h, result)
}

func TestMintUseCase_KeylessRetryResumesWithoutResubmit(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()

	// A keyless mint checkpoints under the deterministic ticket:tenant
	// job id; a DLQ retry (which also carries no key) must find that
	// state and poll the chain rather than restart from INITIATED.
	seedCrashAfterSubmit(t, h, "T1:tenant-a")

	result, err := h.uc.Mint(ctx, "T1", "tenant-a", "")
	require.NoError(t, err)
	assertResumedOnce(t, h, result)
}

func TestMintUseCase_InvalidIdempotencyKeyLengthIsRejected(t *testing.T) {
	h := newMintHarness(t)
	ctx := context.Background()

	_, err := h.uc.Mint(ctx, "T1", "tenant-a", "short")
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}
