package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/dlq"
	"github.com/ticketcore/scancore/internal/infrastructure/kv"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
)

const (
	mintLockTTL          = 5 * time.Minute
	mintLockAcquireDelay = 2 * time.Second
	mintLockRetryEvery   = 100 * time.Millisecond
	mintConfirmTimeout   = 60 * time.Second
	mintConfirmCommit    = entity.CommitmentConfirmed
)

// MintUseCase defines the Mint Orchestrator's public contract.
type MintUseCase interface {
	// Mint drives ticketID through the recovery-point state machine to
	// COMPLETED or FAILED, honoring idempotency replay when idempotencyKey
	// is non-empty.
	Mint(ctx context.Context, ticketID, tenantID, idempotencyKey string) (*MintResult, error)
}

// MintResult mirrors the POST /mint response shape. The JSON form is also
// what gets cached against the idempotency key, so a replayed request
// returns byte-identical content.
type MintResult struct {
	JobID       string               `json:"job_id"`
	Status      entity.RecoveryPoint `json:"status"`
	MintAddress string               `json:"mint_address,omitempty"`
	Signature   string               `json:"signature,omitempty"`
	Replayed    bool                 `json:"-"`
}

// ErrMintInProgress signals a 409: an idempotency key is attached to a job
// still processing.
var ErrMintInProgress = apperr.New(codes.Aborted, "mint already in progress for this idempotency key")

type mintUseCase struct {
	tickets       entity.TicketRepository
	blockchainTxs entity.BlockchainTxRepository
	wallets       entity.WalletRepository
	signer        entity.Signer
	chain         entity.ChainAdapter
	metadata      entity.MetadataUploader
	txRunner      entity.TxRunner
	lock          *kv.Lock
	idempotency   entity.IdempotencyStore
	recovery      entity.RecoveryStore
	dlqRepo       entity.DLQRepository
	logger        *logging.Logger
}

var _ MintUseCase = (*mintUseCase)(nil)

// NewMintUseCase builds a MintUseCase.
func NewMintUseCase(
	tickets entity.TicketRepository,
	blockchainTxs entity.BlockchainTxRepository,
	wallets entity.WalletRepository,
	signer entity.Signer,
	chain entity.ChainAdapter,
	metadata entity.MetadataUploader,
	txRunner entity.TxRunner,
	lock *kv.Lock,
	idempotency entity.IdempotencyStore,
	recovery entity.RecoveryStore,
	dlqRepo entity.DLQRepository,
	logger *logging.Logger,
) MintUseCase {
	return &mintUseCase{
		tickets:       tickets,
		blockchainTxs: blockchainTxs,
		wallets:       wallets,
		signer:        signer,
		chain:         chain,
		metadata:      metadata,
		txRunner:      txRunner,
		lock:          lock,
		idempotency:   idempotency,
		recovery:      recovery,
		dlqRepo:       dlqRepo,
		logger:        logger,
	}
}

// job carries the mutable state threaded through every step of a single
// Mint call, mirroring the durable entity.RecoveryState it is backed by.
type job struct {
	state      *entity.RecoveryState
	lockToken  string
	ticket     *entity.Ticket
	wallet     *entity.CustodialWallet
	unsignedTx *entity.UnsignedTx
	signedTx   *entity.SignedTx
}

// Mint implements MintUseCase.
func (uc *mintUseCase) Mint(ctx context.Context, ticketID, tenantID, idempotencyKey string) (*MintResult, error) {
	// The job_id is deterministic in both modes: the idempotency key when
	// one is supplied, ticket_id:tenant_id otherwise. Determinism is what
	// lets a retry after a mid-flight crash — including a DLQ replay,
	// which carries no key — find and resume the same entity.RecoveryState
	// instead of starting over. A job that crashed right after
	// TX_SUBMITTED must poll the chain for its signature, never resubmit.
	jobID := ticketID + ":" + tenantID
	if idempotencyKey != "" {
		if len(idempotencyKey) < 16 || len(idempotencyKey) > 128 {
			return nil, apperr.New(codes.InvalidArgument, "idempotency key must be 16-128 characters")
		}
		jobID = idempotencyKey

		entry, created, err := uc.idempotency.Begin(ctx, tenantID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if !created {
			switch entry.Status {
			case entity.IdempotencyCompleted:
				return replayedResult(entry)
			case entity.IdempotencyFailed:
				if err := uc.idempotency.Clear(ctx, tenantID, idempotencyKey); err != nil {
					return nil, err
				}
			case entity.IdempotencyProcessing:
				if st, loadErr := uc.recovery.Load(ctx, jobID); loadErr == nil && !st.CurrentPoint.IsTerminal() {
					return uc.resume(ctx, st, idempotencyKey)
				}
				return nil, ErrMintInProgress
			}
		}
	}

	st, err := uc.recovery.Load(ctx, jobID)
	if err != nil {
		st = &entity.RecoveryState{
			JobID:        jobID,
			TicketID:     ticketID,
			TenantID:     tenantID,
			CurrentPoint: entity.RecoveryInitiated,
			StartedAt:    time.Now(),
		}
	}
	if st.CurrentPoint.IsTerminal() {
		// A prior attempt under this job already reached COMPLETED/FAILED;
		// start a fresh run rather than resuming a dead one.
		fresh := &entity.RecoveryState{JobID: jobID, TicketID: ticketID, TenantID: tenantID, CurrentPoint: entity.RecoveryInitiated, StartedAt: time.Now()}
		if st.CurrentPoint == entity.RecoveryFailed && st.Metadata.Signature != nil {
			// The failed attempt had already submitted. Restart at the
			// poll step so this retry confirms the existing signature
			// instead of submitting a second transaction; confirm clears
			// the signature if the chain reports it definitively dead.
			fresh.CurrentPoint = entity.RecoveryTxSubmitted
			fresh.Metadata = st.Metadata
			fresh.RetryCount = st.RetryCount + 1
		}
		st = fresh
	}
	if err := uc.recovery.Save(ctx, st); err != nil {
		return nil, err
	}

	return uc.resume(ctx, st, idempotencyKey)
}

// resume loads state.CurrentPoint and runs the reducer forward until a
// terminal point or a retryable failure is reached. Resuming at
// RecoveryTxSubmitted deliberately polls the chain instead of
// re-submitting: that step's body never calls Submit, only Confirm.
func (uc *mintUseCase) resume(ctx context.Context, st *entity.RecoveryState, idempotencyKey string) (*MintResult, error) {
	j := &job{state: st}
	defer uc.releaseLockIfHeld(ctx, j)

	// A resumed job restarts with no lock token even though its recovery
	// point was originally reached under the lock; re-acquire before
	// stepping so the DB update (and every step in between) runs under
	// single-holder semantics, the same as a first attempt.
	if pointHoldsLock(st.CurrentPoint) {
		if err := uc.acquireLock(ctx, j); err != nil {
			return uc.handleFailure(ctx, j, idempotencyKey, err)
		}
	}

	for {
		if st.CurrentPoint.IsTerminal() {
			break
		}
		next, err := uc.step(ctx, j)
		if err != nil {
			return uc.handleFailure(ctx, j, idempotencyKey, err)
		}
		st.PreviousPoint = &st.CurrentPoint
		st.CurrentPoint = next
		telemetry.MintRecoveryPointTotal.WithLabelValues(string(next)).Inc()
		if err := uc.recovery.Save(ctx, st); err != nil {
			uc.logger.Error(ctx, "failed to save recovery checkpoint", err, slog.String("job_id", st.JobID))
		}
	}

	result := &MintResult{JobID: st.JobID, Status: st.CurrentPoint}
	if st.Metadata.MintAddress != nil {
		result.MintAddress = *st.Metadata.MintAddress
	}
	if st.Metadata.Signature != nil {
		result.Signature = *st.Metadata.Signature
	}

	if idempotencyKey != "" {
		body, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			uc.logger.Error(ctx, "failed to marshal mint result for idempotency cache", marshalErr, slog.String("job_id", st.JobID))
			body = nil
		}
		if cacheErr := uc.idempotency.Complete(ctx, st.TenantID, idempotencyKey, body, st.CurrentPoint); cacheErr != nil {
			uc.logger.Error(ctx, "failed to cache idempotency completion", cacheErr, slog.String("job_id", st.JobID))
		}
	}
	return result, nil
}

// replayedResult reconstructs the original MintResult cached against a
// completed idempotency entry, so a replay returns the identical body the
// first call did. An entry written before its response could be cached
// degrades to status-only.
func replayedResult(entry *entity.IdempotencyEntry) (*MintResult, error) {
	result := &MintResult{Replayed: true}
	if len(entry.Response) > 0 {
		if err := json.Unmarshal(entry.Response, result); err != nil {
			return nil, apperr.Wrap(err, codes.Internal, "corrupt cached idempotency response")
		}
		result.Replayed = true
		return result, nil
	}
	if entry.RecoveryPoint != nil {
		result.Status = *entry.RecoveryPoint
	}
	return result, nil
}

// pointHoldsLock reports whether a job checkpointed at p acquired the
// mint lock before reaching it and has not yet released it (release
// happens in complete, after DB_UPDATED).
func pointHoldsLock(p entity.RecoveryPoint) bool {
	switch p {
	case entity.RecoveryLocked, entity.RecoveryTicketReserved, entity.RecoveryMetadataUploaded,
		entity.RecoveryTxBuilt, entity.RecoveryTxSubmitted, entity.RecoveryTxConfirmed,
		entity.RecoveryDBUpdated:
		return true
	default:
		return false
	}
}

// step executes exactly the work needed to advance from the job's current
// recovery point to the next one.
func (uc *mintUseCase) step(ctx context.Context, j *job) (entity.RecoveryPoint, error) {
	switch j.state.CurrentPoint {
	case entity.RecoveryInitiated:
		return entity.RecoveryValidated, uc.validate(ctx, j)
	case entity.RecoveryValidated:
		return entity.RecoveryLocked, uc.acquireLock(ctx, j)
	case entity.RecoveryLocked:
		return entity.RecoveryTicketReserved, uc.reserve(ctx, j)
	case entity.RecoveryTicketReserved:
		return entity.RecoveryMetadataUploaded, uc.uploadMetadata(ctx, j)
	case entity.RecoveryMetadataUploaded:
		return entity.RecoveryTxBuilt, uc.buildTx(ctx, j)
	case entity.RecoveryTxBuilt:
		return entity.RecoveryTxSubmitted, uc.signAndSubmit(ctx, j)
	case entity.RecoveryTxSubmitted:
		return entity.RecoveryTxConfirmed, uc.confirm(ctx, j)
	case entity.RecoveryTxConfirmed:
		return entity.RecoveryDBUpdated, uc.updateDB(ctx, j)
	case entity.RecoveryDBUpdated:
		return entity.RecoveryCompleted, uc.complete(ctx, j)
	default:
		return entity.RecoveryFailed, apperr.New(codes.Internal, "unknown recovery point")
	}
}

func (uc *mintUseCase) validate(ctx context.Context, j *job) error {
	var ticket *entity.Ticket
	err := uc.txRunner.RunInTx(ctx, j.state.TenantID, func(ctx context.Context) error {
		t, err := uc.tickets.Get(ctx, j.state.TicketID)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return err
	}
	if ticket.IsMinted() {
		return apperr.New(codes.AlreadyExists, "ticket already minted")
	}
	if ticket.Status != entity.TicketStatusReserved && ticket.Status != entity.TicketStatusSold {
		return apperr.New(codes.FailedPrecondition, "ticket is not in a mintable state")
	}
	j.ticket = ticket
	return nil
}

func (uc *mintUseCase) acquireLock(ctx context.Context, j *job) error {
	key := kv.MintLockKey(j.state.TenantID, j.state.TicketID)
	deadline := time.Now().Add(mintLockAcquireDelay)
	for {
		token, err := uc.lock.Acquire(ctx, key, mintLockTTL)
		if err != nil {
			return err
		}
		if token != "" {
			j.lockToken = token
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.New(codes.Unavailable, "failed to acquire mint lock within 2s, enqueue for retry")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(mintLockRetryEvery):
		}
	}
}

func (uc *mintUseCase) releaseLockIfHeld(ctx context.Context, j *job) {
	if j.lockToken == "" {
		return
	}
	key := kv.MintLockKey(j.state.TenantID, j.state.TicketID)
	if _, err := uc.lock.Release(ctx, key, j.lockToken); err != nil {
		uc.logger.Error(ctx, "failed to release mint lock", err, slog.String("job_id", j.state.JobID))
	}
}

func (uc *mintUseCase) reserve(ctx context.Context, j *job) error {
	return uc.txRunner.RunInTx(ctx, j.state.TenantID, func(ctx context.Context) error {
		return uc.blockchainTxs.Upsert(ctx, &entity.BlockchainTransaction{
			TicketID: j.state.TicketID,
			TenantID: j.state.TenantID,
			Type:     entity.BlockchainTxMint,
			Status:   entity.BlockchainTxPending,
		})
	})
}

func (uc *mintUseCase) uploadMetadata(ctx context.Context, j *job) error {
	if err := uc.ensureTicket(ctx, j); err != nil {
		return err
	}
	uri, err := uc.metadata.Upload(ctx, j.state.TicketID, map[string]string{
		"ticket_id": j.state.TicketID,
		"tenant_id": j.state.TenantID,
		"event_id":  j.ticket.EventID,
	})
	if err != nil {
		return err
	}
	j.state.Metadata.MetadataURI = &uri
	return nil
}

// ensureTicket reloads the ticket row when a resumed job skipped the
// validate step that would normally have populated it.
func (uc *mintUseCase) ensureTicket(ctx context.Context, j *job) error {
	if j.ticket != nil {
		return nil
	}
	return uc.txRunner.RunInTx(ctx, j.state.TenantID, func(ctx context.Context) error {
		t, err := uc.tickets.Get(ctx, j.state.TicketID)
		if err != nil {
			return err
		}
		j.ticket = t
		return nil
	})
}

func (uc *mintUseCase) buildTx(ctx context.Context, j *job) error {
	// The mint-authority wallet is resolved by tenant: this core mints on
	// behalf of the tenant's own custodial signer, not a named end user.
	wallet, err := uc.wallets.GetByUser(ctx, j.state.TenantID, j.state.TenantID)
	if err != nil {
		return err
	}
	j.wallet = wallet

	instructions := entity.TxInstructions{
		Kind:      entity.BlockchainTxMint,
		TenantID:  j.state.TenantID,
		Recipient: wallet.Address,
	}
	estimate, err := uc.chain.Estimate(ctx, instructions, entity.UrgencyMedium)
	if err != nil {
		return err
	}
	unsigned, err := uc.chain.Build(ctx, instructions, estimate, wallet.Address)
	if err != nil {
		return err
	}
	j.unsignedTx = unsigned

	// The mint address is checkpointed alongside the TX_BUILT save so a
	// job resumed past this step (where j.wallet is no longer in memory)
	// can still complete the DB update with a non-null address.
	mintAddress := wallet.Address
	j.state.Metadata.MintAddress = &mintAddress
	return nil
}

func (uc *mintUseCase) signAndSubmit(ctx context.Context, j *job) error {
	// A job resumed straight into this step has lost the built transaction
	// and wallet handle; rebuilding is safe because nothing has been
	// submitted yet (a fresh blockhash, same instructions).
	if j.unsignedTx == nil || j.wallet == nil {
		if err := uc.buildTx(ctx, j); err != nil {
			return err
		}
	}

	signed, err := uc.signer.Sign(ctx, j.unsignedTx, j.wallet.ID, "mint")
	if err != nil {
		return err
	}
	j.signedTx = signed

	signature, err := uc.chain.Submit(ctx, signed)
	if err != nil {
		return err
	}
	j.state.Metadata.Signature = &signature
	return nil
}

// confirm polls the chain for the signature recorded at TX_SUBMITTED.
// Resuming straight into this step (instead of re-running signAndSubmit)
// is what prevents a double-spend after a crash following submission.
func (uc *mintUseCase) confirm(ctx context.Context, j *job) error {
	if j.state.Metadata.Signature == nil {
		return apperr.New(codes.Internal, "missing signature at confirm step")
	}
	conf, err := uc.chain.Confirm(ctx, *j.state.Metadata.Signature, mintConfirmCommit, mintConfirmTimeout)
	if err != nil {
		return err
	}
	if conf.Status != entity.BlockchainTxConfirmed && conf.Status != entity.BlockchainTxFinalized {
		if conf.Status == entity.BlockchainTxFailed || conf.Status == entity.BlockchainTxExpired {
			// The chain reports the transaction definitively dead (e.g.
			// its blockhash expired). Dropping the signature lets the next
			// retry rebuild and resubmit instead of polling a signature
			// that can never confirm.
			j.state.Metadata.Signature = nil
		}
		if conf.Err != nil {
			return conf.Err
		}
		return apperr.New(codes.DeadlineExceeded, "transaction did not reach commitment within timeout")
	}
	return nil
}

func (uc *mintUseCase) updateDB(ctx context.Context, j *job) error {
	// Both values come from the durable checkpoint, not in-memory job
	// state: a resume from TX_SUBMITTED never re-ran buildTx, so the
	// checkpoint is the only place they are guaranteed to exist.
	if j.state.Metadata.MintAddress == nil {
		return apperr.New(codes.Internal, "missing mint address at db update step")
	}
	if j.state.Metadata.Signature == nil {
		return apperr.New(codes.Internal, "missing signature at db update step")
	}
	mintAddress := *j.state.Metadata.MintAddress
	return uc.txRunner.RunInTx(ctx, j.state.TenantID, func(ctx context.Context) error {
		if err := uc.tickets.UpdateMint(ctx, j.state.TicketID, mintAddress, *j.state.Metadata.Signature); err != nil {
			return err
		}
		return uc.blockchainTxs.UpdateStatus(ctx, j.state.TicketID, j.state.TenantID, entity.BlockchainTxMint,
			entity.BlockchainTxConfirmed, j.state.Metadata.Signature)
	})
}

func (uc *mintUseCase) complete(ctx context.Context, j *job) error {
	uc.releaseLockIfHeld(ctx, j)
	j.lockToken = ""
	if err := uc.recovery.Delete(ctx, j.state.JobID); err != nil {
		uc.logger.Error(ctx, "failed to schedule recovery state deletion", err, slog.String("job_id", j.state.JobID))
	}
	return nil
}

// handleFailure classifies the error, checkpoints FAILED, and either
// schedules a DLQ retry or leaves the job for manual review.
func (uc *mintUseCase) handleFailure(ctx context.Context, j *job, idempotencyKey string, stepErr error) (*MintResult, error) {
	j.state.CurrentPoint = entity.RecoveryFailed
	errMsg := stepErr.Error()
	j.state.Metadata.Error = &errMsg
	if err := uc.recovery.Save(ctx, j.state); err != nil {
		uc.logger.Error(ctx, "failed to save failure checkpoint", err, slog.String("job_id", j.state.JobID))
	}

	if idempotencyKey != "" {
		if err := uc.idempotency.Fail(ctx, j.state.TenantID, idempotencyKey); err != nil {
			uc.logger.Error(ctx, "failed to mark idempotency entry failed", err, slog.String("job_id", j.state.JobID))
		}
	}

	category := dlq.Classify(stepErr)
	uc.logger.Error(ctx, "mint job failed", stepErr,
		slog.String("job_id", j.state.JobID),
		slog.String("ticket_id", j.state.TicketID),
		slog.String("category", string(category)),
	)

	item := &entity.DLQItem{
		ID:        uuid.NewString(),
		JobID:     j.state.JobID,
		TicketID:  j.state.TicketID,
		TenantID:  j.state.TenantID,
		Category:  category,
		CreatedAt: time.Now(),
	}
	if category == entity.DLQRetryable {
		next := time.Now().Add(entity.BackoffFor(0))
		item.NextRetryAt = &next
	}
	if err := uc.dlqRepo.Insert(ctx, item); err != nil {
		uc.logger.Error(ctx, "failed to enqueue DLQ item", err, slog.String("job_id", j.state.JobID))
	}
	telemetry.DLQItemsTotal.WithLabelValues(string(category)).Inc()

	return &MintResult{JobID: j.state.JobID, Status: entity.RecoveryFailed}, nil
}
