package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

const (
	testAddr      = "night1StoreTestAddr"
	testChallenge = "ch-store-test"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeSolution() *types.PendingSolution {
	return &types.PendingSolution{
		Address:     testAddr,
		ChallengeID: testChallenge,
		Nonce:       12345,
		HashHex:     "00000000deadbeef",
		FoundAt:     time.Now().UTC(),
	}
}

func TestQueue_EnqueueAndScan(t *testing.T) {
	s := openStore(t)
	sol := makeSolution()

	if err := s.Enqueue(sol); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := s.IsPending(testAddr, testChallenge)
	if err != nil {
		t.Fatalf("IsPending: %v", err)
	}
	if !pending {
		t.Error("solution not pending after Enqueue")
	}

	all, err := s.PendingSolutions()
	if err != nil {
		t.Fatalf("PendingSolutions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("pending count = %d, want 1", len(all))
	}
	if all[0].Nonce != sol.Nonce || all[0].Address != sol.Address {
		t.Errorf("round-tripped solution mismatch: %+v", all[0])
	}
}

func TestQueue_DedupeByAddressAndChallenge(t *testing.T) {
	s := openStore(t)

	_ = s.Enqueue(makeSolution())
	dup := makeSolution()
	dup.Nonce = 99999
	if err := s.Enqueue(dup); err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}

	n, err := s.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Errorf("pending count after duplicate enqueue = %d, want 1", n)
	}
}

func TestQueue_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Enqueue(makeSolution()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	s.Close()

	s2, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	pending, _ := s2.IsPending(testAddr, testChallenge)
	if !pending {
		t.Error("queue entry lost across reopen")
	}
}

func TestRecovery_MarkerMovedIntoQueueExactlyOnce(t *testing.T) {
	s := openStore(t)
	loc := identity.PersistentLocator{Address: testAddr}
	sol := makeSolution()

	if err := s.WriteRecoveryMarker(loc, sol); err != nil {
		t.Fatalf("WriteRecoveryMarker: %v", err)
	}

	recovered, err := s.RecoverPending(loc, testChallenge)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if !recovered {
		t.Fatal("marker present but nothing recovered")
	}

	pending, _ := s.IsPending(testAddr, testChallenge)
	if !pending {
		t.Error("recovered solution not in queue")
	}

	markerPath := filepath.Join(loc.ChallengeDir(s.BaseDir(), testChallenge), FileRecovery)
	if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
		t.Error("marker still on disk after recovery")
	}

	// Re-running recovery with no marker is a no-op.
	recovered, err = s.RecoverPending(loc, testChallenge)
	if err != nil {
		t.Fatalf("second RecoverPending: %v", err)
	}
	if recovered {
		t.Error("second recovery pass reported a recovered solution")
	}
}

func TestAlreadySolved_ChecksInOrder(t *testing.T) {
	s := openStore(t)
	loc := identity.MnemonicLocator{Fingerprint: "aabbccdd00112233", Account: 0, Index: 0}

	solved, err := s.AlreadySolved(loc, testAddr, testChallenge)
	if err != nil {
		t.Fatalf("AlreadySolved: %v", err)
	}
	if solved {
		t.Fatal("fresh store reported already solved")
	}

	// 1. Recovery marker counts as solved (and lands in the queue).
	if err := s.WriteRecoveryMarker(loc, makeSolution()); err != nil {
		t.Fatalf("WriteRecoveryMarker: %v", err)
	}
	solved, err = s.AlreadySolved(loc, testAddr, testChallenge)
	if err != nil {
		t.Fatalf("AlreadySolved: %v", err)
	}
	if !solved {
		t.Error("recovery marker did not short-circuit mining")
	}

	// 2. Pending queue entry counts as solved.
	solved, _ = s.AlreadySolved(loc, testAddr, testChallenge)
	if !solved {
		t.Error("pending queue entry did not short-circuit mining")
	}

	// 3. Canonical receipt counts as solved.
	_ = s.Remove(testAddr, testChallenge)
	dir := loc.ChallengeDir(s.BaseDir(), testChallenge)
	_ = os.MkdirAll(dir, 0700)
	_ = os.WriteFile(filepath.Join(dir, FileReceipt), []byte("{}"), 0600)
	solved, _ = s.AlreadySolved(loc, testAddr, testChallenge)
	if !solved {
		t.Error("canonical receipt did not short-circuit mining")
	}
}

func TestAlreadySolved_AlternateReceiptPath(t *testing.T) {
	s := openStore(t)
	loc := identity.MnemonicLocator{Fingerprint: "aabbccdd00112233", Account: 0, Index: 4}

	// A receipt the drainer filed under the persistent-variant path for
	// this mnemonic-derived address must still short-circuit mining.
	if err := s.WriteReceipt(testAddr, testChallenge, "sub-42"); err != nil {
		t.Fatalf("WriteReceipt: %v", err)
	}

	solved, err := s.AlreadySolved(loc, testAddr, testChallenge)
	if err != nil {
		t.Fatalf("AlreadySolved: %v", err)
	}
	if !solved {
		t.Error("alternate-path receipt did not short-circuit mining")
	}
}

// fakeSubmitter scripts submission outcomes per call.
type fakeSubmitter struct {
	errs  []error
	calls int
}

func (f *fakeSubmitter) SubmitSolution(ctx context.Context, sol *types.PendingSolution) (string, error) {
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	if err != nil {
		return "", err
	}
	return "sub-ok", nil
}

func TestDrainer_ConfirmsAndWritesReceipt(t *testing.T) {
	s := openStore(t)
	_ = s.Enqueue(makeSolution())

	d := NewDrainer(s, &fakeSubmitter{}, time.Second, testLogger())
	d.DrainOnce(context.Background())

	pending, _ := s.IsPending(testAddr, testChallenge)
	if pending {
		t.Error("confirmed entry still pending")
	}
	if !s.AlternateReceiptExists(testAddr, testChallenge) {
		t.Error("no receipt written after confirmed submission")
	}
}

func TestDrainer_RetryableFailureLeavesEntry(t *testing.T) {
	s := openStore(t)
	_ = s.Enqueue(makeSolution())

	sub := &fakeSubmitter{errs: []error{
		&coordinator.NetError{Op: "submit", Err: errors.New("connection refused")},
	}}
	d := NewDrainer(s, sub, time.Second, testLogger())
	d.DrainOnce(context.Background())

	pending, _ := s.IsPending(testAddr, testChallenge)
	if !pending {
		t.Error("retryable failure removed the queue entry")
	}

	// Next pass succeeds and drains it.
	d.DrainOnce(context.Background())
	pending, _ = s.IsPending(testAddr, testChallenge)
	if pending {
		t.Error("entry not drained after coordinator recovered")
	}
}

func TestDrainer_AlreadyAcceptedIsDefinitive(t *testing.T) {
	s := openStore(t)
	_ = s.Enqueue(makeSolution())

	sub := &fakeSubmitter{errs: []error{coordinator.ErrAlreadyAccepted}}
	d := NewDrainer(s, sub, time.Second, testLogger())
	d.DrainOnce(context.Background())

	pending, _ := s.IsPending(testAddr, testChallenge)
	if pending {
		t.Error("already-accepted entry still pending")
	}
	if !s.AlternateReceiptExists(testAddr, testChallenge) {
		t.Error("already-accepted response should still produce a receipt")
	}
}

func TestSaveChallenge_WritesSnapshot(t *testing.T) {
	s := openStore(t)
	loc := identity.EphemeralLocator{Address: testAddr}

	ch := &types.ChallengeData{
		ChallengeID:      testChallenge,
		Day:              3,
		LatestSubmission: "2026-01-02T00:00:00Z",
		Difficulty:       "0000FFFF",
		Dataset:          types.NewDataset(make([]byte, 16)),
	}
	if err := s.SaveChallenge(loc, ch); err != nil {
		t.Fatalf("SaveChallenge: %v", err)
	}

	path := filepath.Join(loc.ChallengeDir(s.BaseDir(), testChallenge), FileChallenge)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty challenge snapshot")
	}
}
