// Package miner runs the bounded, parallel proof-of-work nonce search
// against the active challenge's difficulty target and shared dataset.
package miner

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/metrics"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// cancelCheckInterval is how many hashes a worker computes between polls
// of its cancellation flag. Small enough that cancellation latency is
// negligible, large enough not to cost throughput.
const cancelCheckInterval = 4096

// Request describes one search invocation.
type Request struct {
	Address   string
	Locator   identity.Locator
	Threads   int
	Challenge *types.ChallengeData

	// Cancel, when non-nil and set, aborts the search promptly. This is
	// how the pool scheduler pivots off a stale challenge without waiting
	// for a full search cycle.
	Cancel *atomic.Bool

	// MaxHashes bounds the search across all workers; 0 means the search
	// runs until a solution, cancellation, or nonce-space exhaustion.
	MaxHashes uint64
}

// Engine is the proof-of-work search engine. A found solution is durably
// queued before Mine returns; a caller observing ResultFoundAndQueued is
// guaranteed the solution survives process death.
type Engine struct {
	store  *store.Store
	hasher Hasher
	logger *zap.Logger
}

// NewEngine creates an engine writing found solutions through st.
func NewEngine(st *store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: st, hasher: Blake2bHasher{}, logger: logger}
}

// NewEngineWithHasher creates an engine with a custom challenge hash.
func NewEngineWithHasher(st *store.Store, hasher Hasher, logger *zap.Logger) *Engine {
	return &Engine{store: st, hasher: hasher, logger: logger}
}

// Mine partitions the nonce space across req.Threads workers and
// searches until a hash meets the target, the search is cancelled, or
// the bound is exhausted. It returns the outcome plus the hashes
// attempted and elapsed seconds. The returned error is non-nil only for
// configuration mistakes (bad target, invalid thread count); search
// failure is reported through ResultMiningFailed.
//
// All workers are joined before Mine returns, so no hashing activity
// ever outlives the call.
func (e *Engine) Mine(ctx context.Context, req Request) (types.MiningResult, uint64, float64, error) {
	if req.Threads <= 0 {
		return types.ResultMiningFailed, 0, 0, fmt.Errorf("thread count must be positive, got %d", req.Threads)
	}
	if req.Challenge == nil || req.Challenge.Dataset == nil {
		return types.ResultMiningFailed, 0, 0, fmt.Errorf("no challenge data")
	}
	zeroBits, err := ZeroBits(req.Challenge.Difficulty)
	if err != nil {
		return types.ResultMiningFailed, 0, 0, err
	}

	ds := req.Challenge.Dataset.Retain()
	defer ds.Release()
	dataset := ds.Bytes()

	var (
		stop       atomic.Bool
		hashes     atomic.Uint64
		winnerOnce sync.Once
		winner     types.PendingSolution
		found      bool
		wg         sync.WaitGroup
	)

	start := time.Now()
	stride := uint64(req.Threads)

	for i := 0; i < req.Threads; i++ {
		wg.Add(1)
		go func(first uint64) {
			defer wg.Done()

			var local uint64
			for nonce := first; ; nonce += stride {
				if local%cancelCheckInterval == 0 {
					// MaxHashes bounds the total across all workers, so
					// local counts are flushed at the check cadence.
					if local > 0 {
						hashes.Add(local)
						local = 0
					}
					if stop.Load() || ctx.Err() != nil {
						break
					}
					if req.Cancel != nil && req.Cancel.Load() {
						break
					}
					if req.MaxHashes > 0 && hashes.Load() >= req.MaxHashes {
						break
					}
				}

				sum := e.hasher.Sum(req.Address, nonce, dataset)
				local++

				if HashMeetsTarget(sum[:], zeroBits) {
					winnerOnce.Do(func() {
						winner = types.PendingSolution{
							Address:     req.Address,
							ChallengeID: req.Challenge.ChallengeID,
							Nonce:       nonce,
							HashHex:     hex.EncodeToString(sum[:]),
							FoundAt:     time.Now().UTC(),
						}
						found = true
						stop.Store(true)
					})
					break
				}

				// Nonce space for this worker exhausted once we wrap back.
				if nonce+stride < nonce {
					break
				}
			}
			hashes.Add(local)
		}(uint64(i))
	}

	wg.Wait()
	elapsed := time.Since(start).Seconds()
	total := hashes.Load()
	metrics.HashesComputed.Add(float64(total))

	if !found {
		return types.ResultMiningFailed, total, elapsed, nil
	}

	// Durable-enqueue protocol: recovery marker first, then the queue,
	// then the marker is removed. A crash at any point leaves either the
	// marker or the queue entry, never silence.
	if err := e.store.WriteRecoveryMarker(req.Locator, &winner); err != nil {
		e.logger.Warn("failed to write recovery marker before enqueue", zap.Error(err))
	}
	if err := e.store.Enqueue(&winner); err != nil {
		return types.ResultMiningFailed, total, elapsed, fmt.Errorf("solution found but could not be queued: %w", err)
	}
	if err := e.store.RemoveRecoveryMarker(req.Locator, winner.ChallengeID); err != nil {
		e.logger.Warn("solution queued but recovery marker delete failed", zap.Error(err))
	}

	metrics.SolutionsFound.Inc()
	e.logger.Info("solution found and queued",
		zap.String("address", req.Address),
		zap.String("challenge_id", winner.ChallengeID),
		zap.Uint64("nonce", winner.Nonce),
		zap.Uint64("hashes", total),
		zap.Float64("elapsed_secs", elapsed),
	)

	return types.ResultFoundAndQueued, total, elapsed, nil
}
