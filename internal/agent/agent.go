// Package agent is the single mining-mode driver: one loop that fetches
// the active challenge, asks an identity strategy for the next wallet,
// runs the search engine, and reacts to the outcome. The four mining
// modes differ only in the IdentitySource they plug in.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/backoff"
	"github.com/Its-Zeus/shadowharvester/internal/challenge"
	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/miner"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// Runner is the search engine capability the driver consumes.
type Runner interface {
	Mine(ctx context.Context, req miner.Request) (types.MiningResult, uint64, float64, error)
}

// Options tune one driver instance.
type Options struct {
	// Threads is the nonce-search parallelism per engine run.
	Threads int

	// MaxHashes bounds each search cycle; 0 means unbounded.
	MaxHashes uint64

	// DonateTo, when set, receives a donation assignment after every
	// successful cycle.
	DonateTo string

	// Cancel, when non-nil, aborts the in-flight search from outside.
	Cancel *atomic.Bool

	// PollInterval and PollAttempts cap the wait for a new challenge
	// after the source is exhausted for the current one.
	PollInterval time.Duration
	PollAttempts int

	// RetryBase and RetryCap shape the backoff between failed cycles.
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 60
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5 * time.Minute
	}
	return o
}

// Agent drives one identity strategy against the challenge stream.
type Agent struct {
	source *challenge.Source
	ids    IdentitySource
	runner Runner
	store  *store.Store
	client coordinator.Client
	opts   Options
	logger *zap.Logger

	registered map[string]bool
}

func New(source *challenge.Source, ids IdentitySource, runner Runner, st *store.Store,
	client coordinator.Client, opts Options, logger *zap.Logger) *Agent {
	return &Agent{
		source:     source,
		ids:        ids,
		runner:     runner,
		store:      st,
		client:     client,
		opts:       opts.withDefaults(),
		logger:     logger,
		registered: make(map[string]bool),
	}
}

// Run mines until the context ends, the pinned challenge is done, or no
// new challenge appears within the polling window.
func (a *Agent) Run(ctx context.Context) error {
	wait := backoff.New(a.opts.RetryBase, a.opts.RetryCap, 2)

	for ctx.Err() == nil {
		ch, err := a.source.Current(ctx)
		if errors.Is(err, challenge.ErrNoActiveChallenge) {
			a.logger.Info("no active challenge, waiting")
			if serr := wait.Sleep(ctx); serr != nil {
				return serr
			}
			continue
		}
		if err != nil {
			a.logger.Warn("challenge fetch failed", zap.Error(err))
			if serr := wait.Sleep(ctx); serr != nil {
				return serr
			}
			continue
		}

		cand, err := a.ids.Next(ctx, ch.ChallengeID)
		if errors.Is(err, ErrExhausted) {
			a.source.Release()
			if a.source.Pinned() {
				a.logger.Info("pinned challenge fully attempted, stopping")
				return nil
			}
			if !a.waitForRotation(ctx, ch.ChallengeID) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return err
		}

		result, err := a.cycle(ctx, ch, cand)
		if err != nil {
			return err
		}
		a.ids.Advance(cand, result)

		switch result {
		case types.ResultFoundAndQueued:
			wait.Reset()
			a.donate(ctx, cand)
		case types.ResultAlreadySolved:
			wait.Reset()
		case types.ResultMiningFailed:
			// The challenge may have rotated mid-search; re-validate before
			// burning another cycle on stale parameters.
			if a.source.Rotated(ctx, ch.ChallengeID) {
				a.logger.Info("challenge rotated during failed cycle",
					zap.String("stale_challenge_id", ch.ChallengeID))
				continue
			}
			if serr := wait.Sleep(ctx); serr != nil {
				return serr
			}
		}
	}
	return ctx.Err()
}

// cycle runs one identity against one challenge. The returned error is
// non-nil only for fatal misconfiguration (bad difficulty target, broken
// queue); ordinary search failure comes back as ResultMiningFailed.
func (a *Agent) cycle(ctx context.Context, ch *types.ChallengeData, cand Candidate) (types.MiningResult, error) {
	solved, err := a.store.AlreadySolved(cand.Locator, cand.Identity.Address, ch.ChallengeID)
	if err != nil {
		a.logger.Warn("idempotence check failed",
			zap.String("wallet", cand.Name), zap.Error(err))
	}
	if solved {
		a.logger.Info("already solved, skipping",
			zap.String("wallet", cand.Name),
			zap.String("challenge_id", ch.ChallengeID))
		return types.ResultAlreadySolved, nil
	}

	if err := a.ensureRegistered(ctx, cand); err != nil {
		a.logger.Warn("registration failed",
			zap.String("wallet", cand.Name), zap.Error(err))
		return types.ResultMiningFailed, nil
	}

	if err := a.store.SaveChallenge(cand.Locator, ch); err != nil {
		a.logger.Warn("could not cache challenge snapshot", zap.Error(err))
	}

	result, hashes, elapsed, err := a.runner.Mine(ctx, miner.Request{
		Address:   cand.Identity.Address,
		Locator:   cand.Locator,
		Threads:   a.opts.Threads,
		Challenge: ch,
		Cancel:    a.opts.Cancel,
		MaxHashes: a.opts.MaxHashes,
	})
	if err != nil {
		return types.ResultMiningFailed, fmt.Errorf("search cycle for %s: %w", cand.Name, err)
	}
	a.logger.Info("cycle finished",
		zap.String("wallet", cand.Name),
		zap.Stringer("result", result),
		zap.Uint64("hashes", hashes),
		zap.Float64("elapsed_secs", elapsed),
	)
	return result, nil
}

// ensureRegistered registers an address the coordinator has never seen.
// Each address is checked at most once per process.
func (a *Agent) ensureRegistered(ctx context.Context, cand Candidate) error {
	addr := cand.Identity.Address
	if a.registered[addr] {
		return nil
	}

	_, err := a.client.Statistics(ctx, addr)
	if err == nil {
		a.registered[addr] = true
		return nil
	}
	if !errors.Is(err, coordinator.ErrNotRegistered) {
		return err
	}

	terms, err := a.client.Terms(ctx)
	if err != nil {
		return fmt.Errorf("fetch terms: %w", err)
	}
	sig := cand.Identity.Sign(terms)
	if err := a.client.Register(ctx, addr, terms, sig, cand.Identity.PublicKeyHex()); err != nil {
		return err
	}
	a.registered[addr] = true
	a.logger.Info("registered wallet",
		zap.String("wallet", cand.Name), zap.String("address", addr))
	return nil
}

// donate assigns the identity's accumulated rewards to the configured
// target. Failure never interrupts mining; an already-configured target
// counts as success.
func (a *Agent) donate(ctx context.Context, cand Candidate) {
	to := a.opts.DonateTo
	if to == "" || to == cand.Identity.Address {
		return
	}

	msg := coordinator.DonationMessage(to)
	sig := cand.Identity.Sign(msg)
	_, err := a.client.Donate(ctx, cand.Identity.Address, to, sig)
	switch {
	case errors.Is(err, coordinator.ErrAlreadyDonated):
		a.logger.Debug("donation target already configured",
			zap.String("wallet", cand.Name))
	case err != nil:
		a.logger.Warn("donation assignment failed",
			zap.String("wallet", cand.Name), zap.Error(err))
	default:
		a.logger.Info("donation target assigned",
			zap.String("wallet", cand.Name), zap.String("to", to))
	}
}

// waitForRotation polls for a challenge different from lastID, capped by
// PollAttempts.
func (a *Agent) waitForRotation(ctx context.Context, lastID string) bool {
	for attempt := 0; attempt < a.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(a.opts.PollInterval):
		}
		if a.source.Rotated(ctx, lastID) {
			a.logger.Info("new challenge detected")
			return true
		}
	}
	a.logger.Info("no new challenge appeared within the polling window, stopping")
	return false
}
