package service

import (
	"context"
	"fmt"
	"time"

	"paywallet-core/config"
	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const staleClaimReason = "stale claim: worker did not complete within grace period"

// RecoveryServiceImpl implements ports.RecoveryService. Recovery tasks
// settle wallet fallback payments: the funding source is re-debited and the
// wallet credited back.
type RecoveryServiceImpl struct {
	taskRepo   ports.RecoveryTaskRepository
	txRepo     ports.TransactionRepository
	transactor ports.DBTransactor
	ledger     ports.LedgerService
	bank       ports.RecoveryBank
	cfg        config.RecoveryConfig
	log        zerolog.Logger
}

// NewRecoveryService creates a new RecoveryServiceImpl.
func NewRecoveryService(
	taskRepo ports.RecoveryTaskRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	ledger ports.LedgerService,
	bank ports.RecoveryBank,
	cfg config.RecoveryConfig,
	log zerolog.Logger,
) *RecoveryServiceImpl {
	return &RecoveryServiceImpl{
		taskRepo:   taskRepo,
		txRepo:     txRepo,
		transactor: transactor,
		ledger:     ledger,
		bank:       bank,
		cfg:        cfg,
		log:        log,
	}
}

// Enqueue persists a SCHEDULED task with the policy settlement delay.
func (s *RecoveryServiceImpl) Enqueue(ctx context.Context, req ports.EnqueueTaskRequest) (*domain.RecoveryTask, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	now := time.Now().UTC()
	task := &domain.RecoveryTask{
		ID:                    uuid.New(),
		UserID:                req.UserID,
		Amount:                req.Amount,
		Counterparty:          req.Counterparty,
		RecoverySourceAccount: req.RecoverySourceAccount,
		Status:                domain.RecoveryStatusScheduled,
		ScheduledTime:         now.Add(s.cfg.SettlementDelay),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("enqueue recovery task: %w", err))
	}

	s.log.Info().
		Str("task_id", task.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("amount", req.Amount).
		Time("scheduled_time", task.ScheduledTime).
		Msg("recovery task scheduled")

	return task, nil
}

// ProcessDue sweeps due tasks once. Each task is claimed with a conditional
// UPDATE before processing, so overlapping sweeps skip each other's tasks
// and a re-run of an already settled task is a no-op.
func (s *RecoveryServiceImpl) ProcessDue(ctx context.Context) ports.RecoveryReport {
	report := ports.RecoveryReport{}
	now := time.Now().UTC()

	tasks, err := s.taskRepo.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("listing due recovery tasks failed")
		return report
	}

	for i := range tasks {
		task := &tasks[i]

		claimed, err := s.taskRepo.Claim(ctx, task.ID, now)
		if err != nil {
			s.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("claim failed")
			report.Skipped++
			continue
		}
		if !claimed {
			report.Skipped++
			continue
		}
		report.Claimed++

		if s.settle(ctx, task) {
			report.Completed++
		} else {
			report.Failed++
		}
	}

	if report.Claimed > 0 || report.Skipped > 0 {
		s.log.Info().
			Int("claimed", report.Claimed).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Msg("recovery sweep finished")
	}
	return report
}

// settle performs the bank-side debit and the wallet credit for one claimed
// task. Any failure parks the task in FAILED for manual follow-up; there is
// no automatic retry.
func (s *RecoveryServiceImpl) settle(ctx context.Context, task *domain.RecoveryTask) bool {
	bankRef, err := s.bank.Debit(ctx, task.RecoverySourceAccount, task.Amount)
	if err != nil {
		s.failTask(ctx, task.ID, fmt.Sprintf("bank debit failed: %v", err))
		return false
	}

	debitTxn, err := s.recordBankDebit(ctx, task, bankRef)
	if err != nil {
		s.failTask(ctx, task.ID, fmt.Sprintf("recording bank debit failed: %v", err))
		return false
	}

	creditResult, err := s.ledger.Credit(ctx, ports.LedgerEntry{
		UserID:                task.UserID,
		Amount:                task.Amount,
		Type:                  domain.TransactionTypeRefund,
		Counterparty:          task.Counterparty,
		Method:                domain.PaymentMethodWallet,
		OriginalTransactionID: &debitTxn.ID,
	})
	if err != nil {
		s.failTask(ctx, task.ID, fmt.Sprintf("wallet credit failed: %v", err))
		return false
	}

	if err := s.taskRepo.MarkCompleted(ctx, task.ID, debitTxn.ID, creditResult.Transaction.ID); err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID.String()).Msg("marking task completed failed")
		return false
	}

	s.log.Info().
		Str("task_id", task.ID.String()).
		Str("user_id", task.UserID.String()).
		Int64("amount", task.Amount).
		Str("bank_ref", bankRef).
		Msg("recovery task settled")
	return true
}

// recordBankDebit appends the external funding-source debit to the
// transaction log. The wallet balance is untouched by this record.
func (s *RecoveryServiceImpl) recordBankDebit(ctx context.Context, task *domain.RecoveryTask, bankRef string) (*domain.Transaction, error) {
	txn := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        task.UserID,
		Type:          domain.TransactionTypeSent,
		Amount:        -task.Amount,
		Status:        domain.TransactionStatusCompleted,
		Counterparty:  task.RecoverySourceAccount,
		PaymentMethod: domain.PaymentMethodPrimaryRail,
		CreatedAt:     time.Now().UTC(),
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, fmt.Errorf("create bank debit record: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.log.Debug().
		Str("tx_id", txn.ID.String()).
		Str("bank_ref", bankRef).
		Msg("bank debit recorded")
	return txn, nil
}

func (s *RecoveryServiceImpl) failTask(ctx context.Context, id uuid.UUID, reason string) {
	if err := s.taskRepo.MarkFailed(ctx, id, reason); err != nil {
		s.log.Error().Err(err).Str("task_id", id.String()).Msg("marking task failed errored")
		return
	}
	s.log.Warn().Str("task_id", id.String()).Str("reason", reason).Msg("recovery task failed")
}

// SweepStale fails tasks stuck in PROCESSING past the grace period. A stuck
// task means a worker died between claim and completion.
func (s *RecoveryServiceImpl) SweepStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleClaimAfter)
	n, err := s.taskRepo.FailStale(ctx, cutoff, staleClaimReason)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("sweep stale tasks: %w", err))
	}
	if n > 0 {
		s.log.Warn().Int64("count", n).Msg("stale recovery claims swept to FAILED")
	}
	return n, nil
}

// ListByStatus returns tasks in a given state for the admin surface.
func (s *RecoveryServiceImpl) ListByStatus(ctx context.Context, status domain.RecoveryTaskStatus) ([]domain.RecoveryTask, error) {
	tasks, err := s.taskRepo.ListByStatus(ctx, status, s.cfg.BatchSize)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list recovery tasks: %w", err))
	}
	return tasks, nil
}
