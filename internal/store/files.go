package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// Receipt is the local proof that a (identity, challenge) pair was
// confirmed submitted.
type Receipt struct {
	Address      string    `json:"address"`
	ChallengeID  string    `json:"challenge_id"`
	SubmissionID string    `json:"submission_id"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// SaveChallenge caches the challenge snapshot (without the dataset blob)
// in the identity's challenge directory.
func (s *Store) SaveChallenge(loc identity.Locator, ch *types.ChallengeData) error {
	dir, err := s.challengeDir(loc, ch.ChallengeID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(ch, "", "  ")
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileChallenge), data, 0600); err != nil {
		return fmt.Errorf("write challenge snapshot: %w", err)
	}
	return nil
}

// WriteRecoveryMarker durably records a found solution before it is
// queued. This is the crash-safety anchor: if the process dies between
// finding a nonce and confirming it queued, the marker survives and
// RecoverPending replays it on the next run.
func (s *Store) WriteRecoveryMarker(loc identity.Locator, sol *types.PendingSolution) error {
	dir, err := s.challengeDir(loc, sol.ChallengeID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sol)
	if err != nil {
		return fmt.Errorf("encode recovery marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileRecovery), data, 0600); err != nil {
		return fmt.Errorf("write recovery marker: %w", err)
	}
	return nil
}

// RemoveRecoveryMarker deletes the marker once its solution is safely in
// the queue. A failed delete is duplicate-safe (the queue and the
// coordinator both dedupe by identity and challenge), so callers treat
// it as a warning, not an error.
func (s *Store) RemoveRecoveryMarker(loc identity.Locator, challengeID string) error {
	return os.Remove(filepath.Join(loc.ChallengeDir(s.base, challengeID), FileRecovery))
}

// RecoverPending checks for a recovery marker left by a prior crash and,
// if present, appends the recorded solution to the pending queue before
// deleting the marker. Enqueue-then-delete ordering guarantees
// at-least-once delivery into the queue. Returns true if a solution was
// recovered. With no marker present it is a no-op.
func (s *Store) RecoverPending(loc identity.Locator, challengeID string) (bool, error) {
	path := filepath.Join(loc.ChallengeDir(s.base, challengeID), FileRecovery)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read recovery marker: %w", err)
	}

	var sol types.PendingSolution
	if err := json.Unmarshal(data, &sol); err != nil {
		return false, fmt.Errorf("parse recovery marker %s: %w", path, err)
	}

	s.logger.Warn("recovery marker detected, re-queueing solution",
		zap.String("address", sol.Address),
		zap.String("challenge_id", sol.ChallengeID),
	)

	if err := s.Enqueue(&sol); err != nil {
		return false, fmt.Errorf("queue recovered solution: %w", err)
	}

	if err := os.Remove(path); err != nil {
		s.logger.Warn("recovered solution queued but marker delete failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return true, nil
}

// WriteReceipt marks a submission confirmed. The drainer only knows the
// solution's address, so receipts land under the persistent-variant path
// regardless of which locator produced the solution; ReceiptExists
// checks both (see identity.AlternateReceiptDir).
func (s *Store) WriteReceipt(address, challengeID, submissionID string) error {
	dir := identity.AlternateReceiptDir(s.base, challengeID, address)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create receipt dir: %w", err)
	}
	rec := Receipt{
		Address:      address,
		ChallengeID:  challengeID,
		SubmissionID: submissionID,
		ConfirmedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileReceipt), data, 0600); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

// ReceiptExists reports whether a receipt exists at the identity's
// canonical path.
func (s *Store) ReceiptExists(loc identity.Locator, challengeID string) bool {
	_, err := os.Stat(filepath.Join(loc.ChallengeDir(s.base, challengeID), FileReceipt))
	return err == nil
}

// AlternateReceiptExists reports whether a receipt exists at the
// historical drainer path for the address.
func (s *Store) AlternateReceiptExists(address, challengeID string) bool {
	_, err := os.Stat(filepath.Join(identity.AlternateReceiptDir(s.base, challengeID, address), FileReceipt))
	return err == nil
}

// AlreadySolved short-circuits mining for an (identity, challenge) pair.
// Checks run in order: crash-recovery marker (replayed into the queue),
// pending queue membership, receipt at the canonical path, and receipt
// at the historical alternate path. Any positive match means the pair
// must not be mined again.
func (s *Store) AlreadySolved(loc identity.Locator, address, challengeID string) (bool, error) {
	recovered, err := s.RecoverPending(loc, challengeID)
	if err != nil {
		return false, err
	}
	if recovered {
		return true, nil
	}

	pending, err := s.IsPending(address, challengeID)
	if err != nil {
		return false, err
	}
	if pending {
		return true, nil
	}

	if s.ReceiptExists(loc, challengeID) {
		return true, nil
	}
	if s.AlternateReceiptExists(address, challengeID) {
		return true, nil
	}
	return false, nil
}
