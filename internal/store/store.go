// Package store is the durable record of found-but-unconfirmed
// solutions: the bolt-backed pending queue, the per-identity recovery
// markers and receipts, and the background drainer that turns queue
// entries into confirmed submissions.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// FileChallenge caches the challenge snapshot an identity mined under.
	FileChallenge = "challenge.json"

	// FileRecovery records a found solution that is not yet in the queue.
	// Its presence at startup means the process died inside that window.
	FileRecovery = "found.json"

	// FileReceipt marks a confirmed submission for (identity, challenge).
	FileReceipt = "receipt.json"
)

var (
	bucketPending = []byte("pending")
	queueDBName   = "queue.db"
)

// Store owns the pending-submission queue (one bolt database shared
// across all identities) and the per-identity challenge directories.
type Store struct {
	base   string
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the queue database under base and ensures the
// bucket layout exists.
func Open(base string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(base, queueDBName), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue bucket: %w", err)
	}

	s := &Store{base: base, db: db, logger: logger}

	count, err := s.PendingCount()
	if err == nil && count > 0 {
		logger.Info("pending submissions loaded from disk", zap.Int("count", count))
	}
	return s, nil
}

// Close closes the queue database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BaseDir returns the data directory root.
func (s *Store) BaseDir() string {
	return s.base
}

// queueKey dedupes queue entries by (identity, challenge).
func queueKey(address, challengeID string) []byte {
	return []byte(address + "|" + challengeID)
}

// Enqueue durably records a solution in the pending queue. Re-enqueueing
// the same (address, challenge) pair overwrites in place, which keeps
// crash recovery idempotent.
func (s *Store) Enqueue(sol *types.PendingSolution) error {
	data, err := cbor.Marshal(sol)
	if err != nil {
		return fmt.Errorf("encode pending solution: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Put(queueKey(sol.Address, sol.ChallengeID), data)
	})
	if err != nil {
		return fmt.Errorf("persist pending solution: %w", err)
	}
	return nil
}

// IsPending reports whether a solution for (address, challenge) is
// waiting in the queue.
func (s *Store) IsPending(address, challengeID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketPending).Get(queueKey(address, challengeID)) != nil
		return nil
	})
	return found, err
}

// PendingSolutions returns every queued solution.
func (s *Store) PendingSolutions() ([]types.PendingSolution, error) {
	var out []types.PendingSolution
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var sol types.PendingSolution
			if err := cbor.Unmarshal(v, &sol); err != nil {
				return fmt.Errorf("decode queue entry %q: %w", k, err)
			}
			out = append(out, sol)
			return nil
		})
	})
	return out, err
}

// PendingCount returns the number of queued solutions.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}

// Remove deletes a queue entry after its submission is confirmed.
func (s *Store) Remove(address, challengeID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(queueKey(address, challengeID))
	})
}

// challengeDir resolves and creates the per-(identity, challenge)
// directory.
func (s *Store) challengeDir(loc identity.Locator, challengeID string) (string, error) {
	dir := loc.ChallengeDir(s.base, challengeID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create challenge dir: %w", err)
	}
	return dir, nil
}
