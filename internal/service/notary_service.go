package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"paywallet-core/internal/core/ports"

	"github.com/rs/zerolog"
)

const notaryPollTimeout = 5 * time.Second

// NotaryWorker drains the notarization queue in the background. For each
// completed transaction it derives a reference hash and appends it to the
// transaction record, the only mutation a terminal record admits.
type NotaryWorker struct {
	source ports.NotarySource
	txRepo ports.TransactionRepository
	log    zerolog.Logger
}

// NewNotaryWorker creates a new NotaryWorker.
func NewNotaryWorker(source ports.NotarySource, txRepo ports.TransactionRepository, log zerolog.Logger) *NotaryWorker {
	return &NotaryWorker{
		source: source,
		txRepo: txRepo,
		log:    log,
	}
}

// Run drains jobs until the context is cancelled.
func (w *NotaryWorker) Run(ctx context.Context) {
	w.log.Info().Msg("notary worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("notary worker stopped")
			return
		default:
		}

		job, err := w.source.Dequeue(ctx, notaryPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("notary dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.Process(ctx, job)
	}
}

// Process notarizes one job. Re-delivered jobs are harmless: the hash write
// is guarded on the record not yet carrying one.
func (w *NotaryWorker) Process(ctx context.Context, job *ports.NotaryJob) {
	hash := ReferenceHash(job)

	if err := w.txRepo.SetReferenceHash(ctx, job.TransactionID, hash); err != nil {
		w.log.Debug().Err(err).
			Str("tx_id", job.TransactionID.String()).
			Msg("reference hash not applied")
		return
	}

	w.log.Debug().
		Str("tx_id", job.TransactionID.String()).
		Str("hash", hash).
		Msg("transaction notarized")
}

// ReferenceHash derives the external reference hash for a notary job.
func ReferenceHash(job *ports.NotaryJob) string {
	input := fmt.Sprintf("%s|%s|%d", job.TransactionID, job.Summary, job.EnqueuedAt.UnixNano())
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
