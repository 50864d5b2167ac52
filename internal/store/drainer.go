package store

import (
	"context"
	"errors"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/backoff"
	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/metrics"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// Submitter is the slice of the coordinator the drainer needs.
type Submitter interface {
	SubmitSolution(ctx context.Context, sol *types.PendingSolution) (string, error)
}

// Drainer is the long-lived background loop that turns pending queue
// entries into confirmed submissions. It runs independently of mining,
// so a slow or down coordinator never blocks the search engines.
type Drainer struct {
	store     *Store
	submitter Submitter
	interval  time.Duration
	backoff   *backoff.Backoff
	logger    *zap.Logger
}

// NewDrainer creates a drainer scanning the queue every interval.
func NewDrainer(store *Store, submitter Submitter, interval time.Duration, logger *zap.Logger) *Drainer {
	return &Drainer{
		store:     store,
		submitter: submitter,
		interval:  interval,
		backoff:   backoff.New(5*time.Second, 5*time.Minute, 2.0),
		logger:    logger,
	}
}

// Run loops until ctx is cancelled. Each pass attempts every pending
// entry once; entries that fail with a retryable error stay queued for
// the next pass, governed by the drainer's own backoff.
func (d *Drainer) Run(ctx context.Context) {
	d.logger.Info("submission drainer started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("submission drainer stopped")
			return
		case <-ticker.C:
			if retryable := d.drainOnce(ctx); retryable {
				// Coordinator looks unhealthy; slow down before the next pass.
				if err := d.backoff.Sleep(ctx); err != nil {
					return
				}
			} else {
				d.backoff.Reset()
			}
		}
	}
}

// DrainOnce performs a single queue pass. Exposed for recovery at
// startup and for tests; Run calls it on its own cadence.
func (d *Drainer) DrainOnce(ctx context.Context) {
	d.drainOnce(ctx)
}

func (d *Drainer) drainOnce(ctx context.Context) (sawRetryable bool) {
	pending, err := d.store.PendingSolutions()
	if err != nil {
		d.logger.Error("failed to scan pending queue", zap.Error(err))
		return true
	}

	for i := range pending {
		sol := &pending[i]
		if ctx.Err() != nil {
			return sawRetryable
		}

		submissionID, err := d.submitter.SubmitSolution(ctx, sol)
		switch {
		case err == nil:
			d.confirm(sol, submissionID)

		case errors.Is(err, coordinator.ErrAlreadyAccepted):
			// The coordinator already holds this solution; that is a
			// definitive outcome, not a failure.
			d.confirm(sol, "")

		default:
			sawRetryable = true
			metrics.SubmissionRetries.Inc()
			d.logger.Warn("submission failed, will retry",
				zap.String("address", sol.Address),
				zap.String("challenge_id", sol.ChallengeID),
				zap.Error(err),
			)
		}
	}
	return sawRetryable
}

// confirm writes the receipt and removes the queue entry. Receipt before
// removal: losing the entry without a receipt would re-mine a solved
// challenge, the reverse merely re-submits a dedupe-protected solution.
func (d *Drainer) confirm(sol *types.PendingSolution, submissionID string) {
	if err := d.store.WriteReceipt(sol.Address, sol.ChallengeID, submissionID); err != nil {
		d.logger.Warn("failed to write receipt", zap.Error(err))
	}
	if err := d.store.Remove(sol.Address, sol.ChallengeID); err != nil {
		d.logger.Warn("failed to remove confirmed queue entry", zap.Error(err))
		return
	}
	metrics.SubmissionsConfirmed.Inc()
	d.logger.Info("submission confirmed",
		zap.String("address", sol.Address),
		zap.String("challenge_id", sol.ChallengeID),
		zap.String("submission_id", submissionID),
	)
}
