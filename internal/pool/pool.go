// Package pool schedules concurrent search engines across a wallet
// roster: it keeps min(K, remaining) workers mining the current
// challenge, refills slots in roster order as workers finish, and
// cancels the whole round the moment the active challenge rotates.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/backoff"
	"github.com/Its-Zeus/shadowharvester/internal/challenge"
	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/metrics"
	"github.com/Its-Zeus/shadowharvester/internal/miner"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// Runner is the search engine capability the scheduler drives. The
// production implementation is miner.Engine.
type Runner interface {
	Mine(ctx context.Context, req miner.Request) (types.MiningResult, uint64, float64, error)
}

// Member is one roster identity with its signing capability and local
// state location.
type Member struct {
	Name     string
	Identity *identity.Identity
	Locator  identity.Locator
}

// Options tune the scheduler's cadences. Zero values take defaults.
type Options struct {
	// Concurrency is K, the number of simultaneously mining identities.
	Concurrency int

	// WorkerThreads is the nonce-search parallelism inside each engine run.
	WorkerThreads int

	// DonateTo, when set, receives a donation assignment after each
	// worker's successful solve.
	DonateTo string

	DisplayInterval time.Duration
	StatsInterval   time.Duration
	MonitorInterval time.Duration

	// ResultWait bounds each completion-loop receive so the rotation
	// signal is observed at a fixed cadence, not only on result arrival.
	ResultWait time.Duration

	// JoinTimeout bounds the wait for cancelled workers on rotation;
	// stragglers past it are abandoned as best-effort.
	JoinTimeout time.Duration

	NextChallengeInterval time.Duration
	NextChallengeAttempts int
}

func DefaultOptions() Options {
	return Options{
		Concurrency:           2,
		WorkerThreads:         4,
		DisplayInterval:       2 * time.Second,
		StatsInterval:         30 * time.Second,
		MonitorInterval:       30 * time.Second,
		ResultWait:            time.Second,
		JoinTimeout:           15 * time.Second,
		NextChallengeInterval: 30 * time.Second,
		NextChallengeAttempts: 60,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.WorkerThreads <= 0 {
		o.WorkerThreads = def.WorkerThreads
	}
	if o.DisplayInterval <= 0 {
		o.DisplayInterval = def.DisplayInterval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = def.StatsInterval
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = def.MonitorInterval
	}
	if o.ResultWait <= 0 {
		o.ResultWait = def.ResultWait
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = def.JoinTimeout
	}
	if o.NextChallengeInterval <= 0 {
		o.NextChallengeInterval = def.NextChallengeInterval
	}
	if o.NextChallengeAttempts <= 0 {
		o.NextChallengeAttempts = def.NextChallengeAttempts
	}
	return o
}

// Pool drives one round at a time over the roster.
type Pool struct {
	members  []Member
	source   *challenge.Source
	runner   Runner
	store    *store.Store
	client   coordinator.Client
	opts     Options
	stats    *LiveStats
	renderer Renderer
	logger   *zap.Logger
}

// New creates a scheduler over the given roster. renderer may be nil to
// run headless (the stats snapshot stays available for the web surface).
func New(members []Member, source *challenge.Source, runner Runner, st *store.Store,
	client coordinator.Client, opts Options, renderer Renderer, logger *zap.Logger) (*Pool, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("wallet roster is empty")
	}
	return &Pool{
		members:  members,
		source:   source,
		runner:   runner,
		store:    st,
		client:   client,
		opts:     opts.withDefaults(),
		stats:    NewLiveStats(members),
		renderer: renderer,
		logger:   logger,
	}, nil
}

// Stats exposes the live dashboard state for external surfaces.
func (p *Pool) Stats() *LiveStats {
	return p.stats
}

// workerResult is what each worker reports on its single exit path.
type workerResult struct {
	name    string
	result  types.MiningResult
	skipped bool
}

// Run mines rounds until the context is cancelled, the pinned challenge
// is fully attempted, or no new challenge appears within the polling
// window after a completed round.
func (p *Pool) Run(ctx context.Context) error {
	wait := backoff.New(2*time.Second, time.Minute, 2)

	for ctx.Err() == nil {
		ch, err := p.source.Current(ctx)
		if errors.Is(err, challenge.ErrNoActiveChallenge) {
			p.logger.Info("no active challenge, waiting for the next round")
			if !p.waitForNextChallenge(ctx, p.source.LastID()) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			p.logger.Warn("challenge fetch failed", zap.Error(err))
			if serr := wait.Sleep(ctx); serr != nil {
				return serr
			}
			continue
		}
		wait.Reset()

		rotated, err := p.runRound(ctx, ch)
		if err != nil {
			return err
		}
		if rotated {
			metrics.ChallengeRotations.Inc()
			continue
		}

		// Full pass over the roster; drop the round's dataset before any
		// idle wait so its memory is reclaimable.
		p.source.Release()
		if p.source.Pinned() {
			p.logger.Info("pinned challenge fully attempted, stopping")
			return nil
		}
		if !p.waitForNextChallenge(ctx, ch.ChallengeID) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// runRound attempts every roster identity once against ch. It reports
// whether the round ended early because the challenge rotated.
func (p *Pool) runRound(ctx context.Context, ch *types.ChallengeData) (bool, error) {
	p.logger.Info("starting round",
		zap.String("challenge_id", ch.ChallengeID),
		zap.Int("roster", len(p.members)),
		zap.Int("concurrency", p.opts.Concurrency),
	)
	p.stats.BeginRound(ch)
	p.refreshNetwork(ctx, ch)

	roundCtx, cancelRound := context.WithCancel(ctx)

	var rotated atomic.Bool
	var aux sync.WaitGroup
	aux.Add(2)
	go func() {
		defer aux.Done()
		p.monitor(roundCtx, ch.ChallengeID, &rotated)
	}()
	go func() {
		defer aux.Done()
		p.display(roundCtx, ch)
	}()
	// The monitor and display loops must be stopped and joined before the
	// round returns so nothing from a stale round touches the next one.
	defer func() {
		cancelRound()
		aux.Wait()
	}()

	// Buffered to the roster size so an abandoned worker can still send
	// its result without blocking forever.
	results := make(chan workerResult, len(p.members))
	active := make(map[string]*atomic.Bool, p.opts.Concurrency)
	next := 0

	launch := func() {
		m := p.members[next]
		next++
		flag := new(atomic.Bool)
		active[m.Name] = flag
		p.stats.SetStatus(m.Name, StatusMining)
		go func() {
			results <- p.mineOne(roundCtx, ch, m, flag)
		}()
	}

	for next < len(p.members) && len(active) < p.opts.Concurrency {
		launch()
	}

	completed := 0
	for completed < len(p.members) {
		if rotated.Load() {
			p.cancelAndJoin(active, results)
			return true, nil
		}
		select {
		case r := <-results:
			completed++
			delete(active, r.name)
			p.stats.RecordResult(r.name, r.result, r.skipped)
			if next < len(p.members) {
				launch()
			}
		case <-time.After(p.opts.ResultWait):
		case <-ctx.Done():
			p.cancelAndJoin(active, results)
			return false, ctx.Err()
		}
	}
	return false, nil
}

// mineOne is the body of one worker: idempotence check, registration if
// the coordinator has never seen the address, then the search itself.
func (p *Pool) mineOne(ctx context.Context, ch *types.ChallengeData, m Member, cancel *atomic.Bool) workerResult {
	solved, err := p.store.AlreadySolved(m.Locator, m.Identity.Address, ch.ChallengeID)
	if err != nil {
		p.logger.Warn("idempotence check failed",
			zap.String("wallet", m.Name), zap.Error(err))
	}
	if solved {
		return workerResult{name: m.Name, result: types.ResultAlreadySolved, skipped: true}
	}

	if err := p.ensureRegistered(ctx, m); err != nil {
		p.logger.Warn("registration failed, skipping this round",
			zap.String("wallet", m.Name), zap.Error(err))
		return workerResult{name: m.Name, result: types.ResultMiningFailed}
	}

	if err := p.store.SaveChallenge(m.Locator, ch); err != nil {
		p.logger.Warn("could not cache challenge snapshot",
			zap.String("wallet", m.Name), zap.Error(err))
	}

	result, hashes, elapsed, err := p.runner.Mine(ctx, miner.Request{
		Address:   m.Identity.Address,
		Locator:   m.Locator,
		Threads:   p.opts.WorkerThreads,
		Challenge: ch,
		Cancel:    cancel,
	})
	if err != nil {
		p.logger.Warn("search failed",
			zap.String("wallet", m.Name), zap.Error(err))
		return workerResult{name: m.Name, result: types.ResultMiningFailed}
	}
	p.logger.Debug("worker finished",
		zap.String("wallet", m.Name),
		zap.Stringer("result", result),
		zap.Uint64("hashes", hashes),
		zap.Float64("elapsed_secs", elapsed),
	)
	if result == types.ResultFoundAndQueued {
		p.donate(ctx, m)
	}
	return workerResult{name: m.Name, result: result}
}

// donate assigns the member's accumulated rewards to the configured
// target. Failure never interrupts the round; an already-configured
// target counts as success.
func (p *Pool) donate(ctx context.Context, m Member) {
	to := p.opts.DonateTo
	if to == "" || to == m.Identity.Address {
		return
	}

	msg := coordinator.DonationMessage(to)
	_, err := p.client.Donate(ctx, m.Identity.Address, to, m.Identity.Sign(msg))
	switch {
	case errors.Is(err, coordinator.ErrAlreadyDonated):
		p.logger.Debug("donation target already configured",
			zap.String("wallet", m.Name))
	case err != nil:
		p.logger.Warn("donation assignment failed",
			zap.String("wallet", m.Name), zap.Error(err))
	default:
		p.logger.Info("donation target assigned",
			zap.String("wallet", m.Name), zap.String("to", to))
	}
}

// ensureRegistered registers the address if the coordinator holds no
// statistics for it. Absence of statistics is the "never registered"
// signal, not an error.
func (p *Pool) ensureRegistered(ctx context.Context, m Member) error {
	_, err := p.client.Statistics(ctx, m.Identity.Address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, coordinator.ErrNotRegistered) {
		return err
	}

	terms, err := p.client.Terms(ctx)
	if err != nil {
		return fmt.Errorf("fetch terms: %w", err)
	}
	sig := m.Identity.Sign(terms)
	if err := p.client.Register(ctx, m.Identity.Address, terms, sig, m.Identity.PublicKeyHex()); err != nil {
		return err
	}
	p.logger.Info("registered wallet",
		zap.String("wallet", m.Name),
		zap.String("address", m.Identity.Address))
	return nil
}

// cancelAndJoin sets every active worker's flag and waits for them to
// drain, bounded by JoinTimeout. Workers past the deadline are abandoned;
// their buffered result sends cannot block.
func (p *Pool) cancelAndJoin(active map[string]*atomic.Bool, results <-chan workerResult) {
	for _, flag := range active {
		flag.Store(true)
	}
	deadline := time.After(p.opts.JoinTimeout)
	for len(active) > 0 {
		select {
		case r := <-results:
			delete(active, r.name)
			p.stats.RecordResult(r.name, r.result, r.skipped)
		case <-deadline:
			p.logger.Warn("abandoning workers that did not cancel in time",
				zap.Int("remaining", len(active)))
			return
		}
	}
}

// monitor re-polls the active challenge id and raises the rotation flag
// the first time it differs from the round's id.
func (p *Pool) monitor(ctx context.Context, challengeID string, rotated *atomic.Bool) {
	ticker := time.NewTicker(p.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.source.Rotated(ctx, challengeID) {
				p.logger.Info("challenge rotated mid-round, cancelling workers",
					zap.String("stale_challenge_id", challengeID))
				rotated.Store(true)
				return
			}
		}
	}
}

// display renders the dashboard on its own cadence and refreshes
// coordinator-side statistics on a slower one. Rendering never blocks on
// mining; both loops only read consistent snapshots.
func (p *Pool) display(ctx context.Context, ch *types.ChallengeData) {
	render := time.NewTicker(p.opts.DisplayInterval)
	defer render.Stop()
	refresh := time.NewTicker(p.opts.StatsInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-render.C:
			if p.renderer != nil {
				p.renderer.Render(p.stats.Snapshot())
			}
		case <-refresh.C:
			p.refreshNetwork(ctx, ch)
		}
	}
}

// refreshNetwork pulls round-wide and per-identity figures from the
// coordinator and applies them to the stats table. All network calls
// happen before any lock is taken.
func (p *Pool) refreshNetwork(ctx context.Context, ch *types.ChallengeData) {
	var rates types.WorkRate
	if r, err := p.client.WorkRate(ctx); err == nil {
		rates = r
	} else {
		p.logger.Debug("work-rate refresh failed", zap.Error(err))
	}

	var nextAt string
	if status, err := p.client.Status(ctx); err == nil && status.NextChallengeStartsAt != nil {
		nextAt = *status.NextChallengeStartsAt
	}

	type memberFigures struct {
		name     string
		receipts uint32
		tokens   float64
	}
	var figures []memberFigures
	var recent uint32
	for _, m := range p.members {
		st, err := p.client.Statistics(ctx, m.Identity.Address)
		if err != nil {
			continue
		}
		recent += st.RecentReceipts
		figures = append(figures, memberFigures{
			name:     m.Name,
			receipts: st.Receipts,
			tokens:   float64(st.NightAllocation) / 1e6,
		})
	}

	p.stats.SetNetwork(rates.PerSolution(ch.Day, recent), nextAt)
	for _, f := range figures {
		p.stats.SetWorkerNetwork(f.name, f.receipts, f.tokens)
	}
}

// waitForNextChallenge polls for a challenge different from lastID. It
// returns false when the context ends or the attempt cap is reached
// without a new round appearing.
func (p *Pool) waitForNextChallenge(ctx context.Context, lastID string) bool {
	for attempt := 0; attempt < p.opts.NextChallengeAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.opts.NextChallengeInterval):
		}
		if p.source.Rotated(ctx, lastID) {
			p.logger.Info("new challenge detected")
			return true
		}
	}
	p.logger.Info("no new challenge appeared within the polling window, stopping")
	return false
}
