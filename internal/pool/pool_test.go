package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/challenge"
	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/miner"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func testOptions() Options {
	return Options{
		Concurrency:           2,
		WorkerThreads:         1,
		DisplayInterval:       10 * time.Millisecond,
		StatsInterval:         50 * time.Millisecond,
		MonitorInterval:       10 * time.Millisecond,
		ResultWait:            5 * time.Millisecond,
		JoinTimeout:           500 * time.Millisecond,
		NextChallengeInterval: 5 * time.Millisecond,
		NextChallengeAttempts: 2,
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMembers(t *testing.T, n int) []Member {
	t.Helper()
	members := make([]Member, 0, n)
	for i := 0; i < n; i++ {
		id, err := identity.NewEphemeral()
		if err != nil {
			t.Fatalf("ephemeral identity: %v", err)
		}
		members = append(members, Member{
			Name:     fmt.Sprintf("wallet-%d", i),
			Identity: id,
			Locator:  identity.EphemeralLocator{Address: id.Address},
		})
	}
	return members
}

func makeChallenge(id string) *types.ChallengeData {
	return &types.ChallengeData{
		ChallengeID: id,
		Day:         1,
		Difficulty:  "00FFFFFF",
		Dataset:     types.NewDataset(make([]byte, 64)),
	}
}

// fakeClient is a scriptable coordinator.
type fakeClient struct {
	mu            sync.Mutex
	active        *types.ChallengeData
	byID          map[string]*types.ChallengeData
	statsErr      error
	registerCalls int
	donateCalls   int
}

func (f *fakeClient) ActiveChallenge(ctx context.Context) (*types.ChallengeData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, coordinator.ErrNoActiveChallenge
	}
	return f.active, nil
}

func (f *fakeClient) ActiveChallengeID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return "", coordinator.ErrNoActiveChallenge
	}
	return f.active.ChallengeID, nil
}

func (f *fakeClient) ChallengeByID(ctx context.Context, id string) (*types.ChallengeData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.byID[id]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("challenge by id: coordinator returned 404")
}

func (f *fakeClient) Terms(ctx context.Context) (string, error) { return "terms of use", nil }

func (f *fakeClient) Register(ctx context.Context, address, message, sig, pub string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	return nil
}

func (f *fakeClient) SubmitSolution(ctx context.Context, sol *types.PendingSolution) (string, error) {
	return "sub-1", nil
}

func (f *fakeClient) Statistics(ctx context.Context, address string) (*types.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &types.Statistics{}, nil
}

func (f *fakeClient) WorkRate(ctx context.Context) (types.WorkRate, error) {
	return types.WorkRate{1000000}, nil
}

func (f *fakeClient) Status(ctx context.Context) (*types.ChallengeStatus, error) {
	return &types.ChallengeStatus{}, nil
}

func (f *fakeClient) Donate(ctx context.Context, from, to, sig string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.donateCalls++
	return "don-1", nil
}

// fakeRunner tracks concurrency and scripts the per-run outcome.
type fakeRunner struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int

	result       types.MiningResult
	runFor       time.Duration
	blockOnFlag  bool
	sawCancelled int
}

func (f *fakeRunner) Mine(ctx context.Context, req miner.Request) (types.MiningResult, uint64, float64, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.calls++
	f.mu.Unlock()

	if f.blockOnFlag {
		for !req.Cancel.Load() && ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
		f.mu.Lock()
		f.sawCancelled++
		f.active--
		f.mu.Unlock()
		return types.ResultMiningFailed, 100, 0.1, nil
	}

	time.Sleep(f.runFor)
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return f.result, 100, 0.1, nil
}

func newTestPool(t *testing.T, members []Member, client *fakeClient, runner Runner, pinned string) *Pool {
	t.Helper()
	src := challenge.NewSource(client, pinned, testLogger())
	p, err := New(members, src, runner, testStore(t), client, testOptions(), nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRun_PinnedRoundCompletesWholeRoster(t *testing.T) {
	members := testMembers(t, 5)
	client := &fakeClient{byID: map[string]*types.ChallengeData{
		"ch-pinned": makeChallenge("ch-pinned"),
	}}
	runner := &fakeRunner{result: types.ResultFoundAndQueued, runFor: 10 * time.Millisecond}
	p := newTestPool(t, members, client, runner, "ch-pinned")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if runner.calls != len(members) {
		t.Errorf("engine runs = %d, want %d", runner.calls, len(members))
	}
	if runner.maxActive > 2 {
		t.Errorf("max concurrent workers = %d, want <= 2", runner.maxActive)
	}
	for _, w := range p.Stats().Snapshot().Workers {
		if w.Status != StatusSolved {
			t.Errorf("wallet %s status = %s, want solved", w.Name, w.Status)
		}
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.donateCalls != 0 {
		t.Errorf("donation calls = %d, want 0 with no target configured", client.donateCalls)
	}
}

func TestRun_DonatesAfterEachSolve(t *testing.T) {
	members := testMembers(t, 3)
	client := &fakeClient{byID: map[string]*types.ChallengeData{
		"ch-pinned": makeChallenge("ch-pinned"),
	}}
	runner := &fakeRunner{result: types.ResultFoundAndQueued}

	src := challenge.NewSource(client, "ch-pinned", testLogger())
	opts := testOptions()
	opts.DonateTo = "night1PoolDonationTarget"
	p, err := New(members, src, runner, testStore(t), client, opts, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.donateCalls != len(members) {
		t.Errorf("donation calls = %d, want %d (one per solve)", client.donateCalls, len(members))
	}
}

func TestRun_CachesChallengeSnapshotPerWallet(t *testing.T) {
	members := testMembers(t, 3)
	client := &fakeClient{byID: map[string]*types.ChallengeData{
		"ch-pinned": makeChallenge("ch-pinned"),
	}}
	runner := &fakeRunner{result: types.ResultFoundAndQueued}
	p := newTestPool(t, members, client, runner, "ch-pinned")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, m := range members {
		path := filepath.Join(m.Locator.ChallengeDir(p.store.BaseDir(), "ch-pinned"), store.FileChallenge)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("wallet %s has no cached challenge snapshot: %v", m.Name, err)
		}
	}
}

func TestRunRound_RotationCancelsAllWorkers(t *testing.T) {
	members := testMembers(t, 5)
	// The coordinator already reports a different active challenge, so the
	// first monitor tick flags rotation.
	client := &fakeClient{active: makeChallenge("ch-2")}
	runner := &fakeRunner{blockOnFlag: true}
	p := newTestPool(t, members, client, runner, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rotated, err := p.runRound(ctx, makeChallenge("ch-1"))
	if err != nil {
		t.Fatalf("runRound: %v", err)
	}
	if !rotated {
		t.Fatal("rotation was not detected")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.sawCancelled != runner.calls {
		t.Errorf("cancelled workers = %d, launched = %d; stragglers left running",
			runner.sawCancelled, runner.calls)
	}
	if runner.active != 0 {
		t.Errorf("%d workers still active after round exit", runner.active)
	}
}

func TestRun_SkipsIdentitiesWithReceipts(t *testing.T) {
	members := testMembers(t, 3)
	client := &fakeClient{byID: map[string]*types.ChallengeData{
		"ch-pinned": makeChallenge("ch-pinned"),
	}}
	runner := &fakeRunner{result: types.ResultFoundAndQueued, runFor: 5 * time.Millisecond}
	p := newTestPool(t, members, client, runner, "ch-pinned")

	// A prior run already filed a receipt for the middle wallet.
	if err := p.store.WriteReceipt(members[1].Identity.Address, "ch-pinned", "sub-old"); err != nil {
		t.Fatalf("WriteReceipt: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if runner.calls != len(members)-1 {
		t.Errorf("engine runs = %d, want %d", runner.calls, len(members)-1)
	}
	snap := p.Stats().Snapshot()
	if snap.Workers[1].Status != StatusSkipped {
		t.Errorf("receipt-holding wallet status = %s, want skipped", snap.Workers[1].Status)
	}
}

func TestRun_RegistersUnknownAddresses(t *testing.T) {
	members := testMembers(t, 3)
	client := &fakeClient{
		byID:     map[string]*types.ChallengeData{"ch-pinned": makeChallenge("ch-pinned")},
		statsErr: coordinator.ErrNotRegistered,
	}
	runner := &fakeRunner{result: types.ResultFoundAndQueued}
	p := newTestPool(t, members, client, runner, "ch-pinned")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.registerCalls != len(members) {
		t.Errorf("register calls = %d, want %d", client.registerCalls, len(members))
	}
}

func TestLiveStats_RecordResult(t *testing.T) {
	members := testMembers(t, 3)
	stats := NewLiveStats(members)
	stats.BeginRound(makeChallenge("ch-1"))

	stats.RecordResult("wallet-0", types.ResultFoundAndQueued, false)
	stats.RecordResult("wallet-1", types.ResultMiningFailed, false)
	stats.RecordResult("wallet-2", types.ResultAlreadySolved, true)

	snap := stats.Snapshot()
	if snap.Workers[0].Status != StatusSolved || snap.Workers[0].Solved != 1 {
		t.Errorf("wallet-0 = %s/%d, want solved/1", snap.Workers[0].Status, snap.Workers[0].Solved)
	}
	if snap.Workers[1].Status != StatusFailed {
		t.Errorf("wallet-1 = %s, want failed", snap.Workers[1].Status)
	}
	if snap.Workers[2].Status != StatusSkipped {
		t.Errorf("wallet-2 = %s, want skipped", snap.Workers[2].Status)
	}

	// Snapshot preserves roster order.
	for i, w := range snap.Workers {
		if w.Name != fmt.Sprintf("wallet-%d", i) {
			t.Errorf("worker %d = %s, out of roster order", i, w.Name)
		}
	}
}
