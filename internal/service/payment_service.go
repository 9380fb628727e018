package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const idempotencyTTL = 24 * time.Hour

// PaymentServiceImpl implements ports.PaymentService. It orchestrates the
// primary-rail attempt and the wallet fallback; balance mutations always go
// through the ledger service.
type PaymentServiceImpl struct {
	userRepo    ports.UserRepository
	txRepo      ports.TransactionRepository
	idempRepo   ports.IdempotencyRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	ledger      ports.LedgerService
	rail        ports.PrimaryRail
	recovery    ports.RecoveryService
	pinHasher   ports.PINHasher
	publisher   ports.EventPublisher
	notary      ports.Notary
	railTimeout time.Duration
	log         zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	userRepo ports.UserRepository,
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	ledger ports.LedgerService,
	rail ports.PrimaryRail,
	recovery ports.RecoveryService,
	pinHasher ports.PINHasher,
	publisher ports.EventPublisher,
	notary ports.Notary,
	railTimeout time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		userRepo:    userRepo,
		txRepo:      txRepo,
		idempRepo:   idempRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		ledger:      ledger,
		rail:        rail,
		recovery:    recovery,
		pinHasher:   pinHasher,
		publisher:   publisher,
		notary:      notary,
		railTimeout: railTimeout,
		log:         log,
	}
}

// Pay executes one payment request end to end: idempotency replay, PIN
// check, primary rail attempt, wallet fallback, recovery scheduling.
func (s *PaymentServiceImpl) Pay(ctx context.Context, req ports.PayRequest) (*ports.PayResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Counterparty == "" {
		return nil, apperror.Validation("counterparty is required")
	}
	if req.ReferenceID == "" {
		return nil, apperror.Validation("reference_id is required")
	}

	idempKey := domain.BuildPaymentIdempotencyKey(req.UserID, req.ReferenceID)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.unmarshalCachedResult(cached)
	}

	// Layer 2: DB idempotency check
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return s.unmarshalCachedResult(idempLog.ResponseJSON)
	}

	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}

	ok, err := s.pinHasher.Verify(req.PIN, user.PINHash)
	if err != nil || !ok {
		return nil, apperror.ErrInvalidPIN()
	}

	accountRef := req.PrimaryAccountRef
	if accountRef == "" {
		accountRef = user.PrimaryAccountRef
	}

	// Once the transfer is dispatched, caller cancellation must not abort
	// finalization; the rail may have moved money. The detached context
	// carries its own deadline.
	railCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.railTimeout+time.Second)
	defer cancel()

	railResult, railErr := s.rail.Attempt(railCtx, ports.RailRequest{
		PayerAccount:    accountRef,
		PayeeIdentifier: req.Counterparty,
		Amount:          req.Amount,
		Proof:           authorizationProof(req.UserID, req.ReferenceID, req.Amount),
	})

	finCtx := context.WithoutCancel(ctx)

	if railErr == nil {
		return s.finalizePrimary(finCtx, req, idempKey, railResult)
	}

	switch apperror.GetCode(railErr) {
	case "PAY_003":
		// Definitive decline. Record it; no fallback.
		failedTxn, recErr := s.recordFailedAttempt(finCtx, req, railErr.Error())
		if recErr != nil {
			return nil, recErr
		}
		ref := failureRef(failedTxn.ID)
		return &ports.PayResult{
			Transaction:  failedTxn,
			Method:       domain.PaymentMethodPrimaryRail,
			FallbackUsed: false,
			FailureRef:   &ref,
		}, railErr
	case "PAY_001", "PAY_002":
		return s.attemptFallback(finCtx, req, user, accountRef, idempKey, railErr)
	default:
		return nil, railErr
	}
}

// finalizePrimary records a successful rail transfer. The wallet balance is
// untouched; the record documents money that moved on the rail.
func (s *PaymentServiceImpl) finalizePrimary(ctx context.Context, req ports.PayRequest, idempKey string, railResult *ports.RailResult) (*ports.PayResult, error) {
	txn := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Type:          domain.TransactionTypeSent,
		Amount:        -req.Amount,
		Status:        domain.TransactionStatusCompleted,
		Counterparty:  req.Counterparty,
		PaymentMethod: domain.PaymentMethodPrimaryRail,
		CreatedAt:     time.Now().UTC(),
	}

	result := &ports.PayResult{
		Transaction:  txn,
		Method:       domain.PaymentMethodPrimaryRail,
		FallbackUsed: false,
	}

	if err := s.persistOutcome(ctx, txn, idempKey, result); err != nil {
		return nil, err
	}

	s.publisher.Publish(req.UserID, domain.NewTransactionEvent(txn))
	summary := fmt.Sprintf("%s:%d:%s", txn.Type, txn.Amount, txn.Counterparty)
	if err := s.notary.Enqueue(ctx, txn.ID, summary); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("notary enqueue failed")
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("amount", req.Amount).
		Str("rail_ref", railResult.ReferenceID).
		Msg("payment completed on primary rail")

	return result, nil
}

// attemptFallback is taken when the rail is unreachable or timed out. The
// wallet bridges the payment and a recovery task settles the funding source
// later.
func (s *PaymentServiceImpl) attemptFallback(ctx context.Context, req ports.PayRequest, user *domain.User, accountRef, idempKey string, railErr error) (*ports.PayResult, error) {
	failedTxn, err := s.recordFailedAttempt(ctx, req, railErr.Error())
	if err != nil {
		return nil, err
	}
	ref := failureRef(failedTxn.ID)

	if !user.FallbackEnabled {
		s.log.Info().
			Str("user_id", req.UserID.String()).
			Str("failure_ref", ref).
			Msg("rail unavailable, fallback disabled for user")
		return &ports.PayResult{
			Transaction: failedTxn,
			Method:      domain.PaymentMethodPrimaryRail,
			FailureRef:  &ref,
		}, apperror.ErrFallbackIneligible()
	}

	ledgerResult, err := s.ledger.Debit(ctx, ports.LedgerEntry{
		UserID:                req.UserID,
		Amount:                req.Amount,
		Type:                  domain.TransactionTypeSent,
		Counterparty:          req.Counterparty,
		Method:                domain.PaymentMethodWallet,
		OriginalTransactionID: &failedTxn.ID,
	})
	if err != nil {
		if apperror.Is(err, "LED_001") {
			s.log.Info().
				Str("user_id", req.UserID.String()).
				Str("failure_ref", ref).
				Msg("rail unavailable, wallet cannot cover fallback")
			return &ports.PayResult{
				Transaction: failedTxn,
				Method:      domain.PaymentMethodPrimaryRail,
				FailureRef:  &ref,
			}, apperror.ErrFallbackIneligible()
		}
		return nil, err
	}

	walletTxn := ledgerResult.Transaction

	if _, err := s.recovery.Enqueue(ctx, ports.EnqueueTaskRequest{
		UserID:                req.UserID,
		Amount:                req.Amount,
		Counterparty:          req.Counterparty,
		RecoverySourceAccount: accountRef,
	}); err != nil {
		// The payment itself succeeded; the missing task needs manual
		// reconciliation, so log at error level with full context.
		s.log.Error().Err(err).
			Str("user_id", req.UserID.String()).
			Str("wallet_tx_id", walletTxn.ID.String()).
			Int64("amount", req.Amount).
			Msg("recovery task enqueue failed after wallet fallback")
	}

	result := &ports.PayResult{
		Transaction:  walletTxn,
		Method:       domain.PaymentMethodWallet,
		FallbackUsed: true,
	}
	if err := s.storeIdempotency(ctx, walletTxn.ID, idempKey, result); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to store idempotency record")
	}

	s.log.Info().
		Str("tx_id", walletTxn.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("amount", req.Amount).
		Msg("payment completed via wallet fallback")

	return result, nil
}

// recordFailedAttempt appends the FAILED rail attempt to the transaction
// log. No balance mutation occurs.
func (s *PaymentServiceImpl) recordFailedAttempt(ctx context.Context, req ports.PayRequest, reason string) (*domain.Transaction, error) {
	txn := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Type:          domain.TransactionTypeFailed,
		Amount:        -req.Amount,
		Status:        domain.TransactionStatusFailed,
		Counterparty:  req.Counterparty,
		PaymentMethod: domain.PaymentMethodPrimaryRail,
		CreatedAt:     time.Now().UTC(),
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record failed attempt: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.publisher.Publish(req.UserID, domain.NewTransactionEvent(txn))
	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("reason", reason).
		Msg("primary rail attempt failed")

	return txn, nil
}

// persistOutcome commits a record-only transaction and its idempotency log
// in one database transaction.
func (s *PaymentServiceImpl) persistOutcome(ctx context.Context, txn *domain.Transaction, idempKey string, result *ports.PayResult) error {
	respJSON, err := json.Marshal(result)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal result: %w", err))
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}
	if err := s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txn.ID,
		ResponseJSON:  respJSON,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("save idempotency log: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
	return nil
}

// storeIdempotency writes the idempotency log for an outcome whose
// transaction already committed (wallet fallback path).
func (s *PaymentServiceImpl) storeIdempotency(ctx context.Context, txID uuid.UUID, idempKey string, result *ports.PayResult) error {
	respJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
		Key:           idempKey,
		TransactionID: txID,
		ResponseJSON:  respJSON,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save idempotency log: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
	}
	return nil
}

func (s *PaymentServiceImpl) unmarshalCachedResult(data []byte) (*ports.PayResult, error) {
	result := &ports.PayResult{}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached result: %w", err))
	}
	s.log.Debug().Msg("replaying cached payment result")
	return result, nil
}

// failureRef derives the stable ticket reference handed to the caller when
// a payment cannot complete.
func failureRef(txID uuid.UUID) string {
	return "PAYFAIL-" + strings.ToUpper(strings.ReplaceAll(txID.String(), "-", "")[:12])
}

// authorizationProof derives the attestation forwarded to the rail once the
// payer's PIN has been verified. The PIN itself never leaves this service.
func authorizationProof(userID uuid.UUID, referenceID string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, referenceID, amount)))
	return hex.EncodeToString(sum[:])
}
