package types

import (
	"sync/atomic"
	"time"
)

// MiningResult is the outcome of one search attempt for one identity.
// There are exactly three states; callers must handle all of them.
type MiningResult int

const (
	// ResultFoundAndQueued means a valid nonce was found and the solution
	// is durably recorded in the submission queue.
	ResultFoundAndQueued MiningResult = iota

	// ResultAlreadySolved means the network or local state shows this
	// identity already solved this challenge.
	ResultAlreadySolved

	// ResultMiningFailed means the search exhausted, errored, or was
	// cancelled without finding a solution.
	ResultMiningFailed
)

func (r MiningResult) String() string {
	switch r {
	case ResultFoundAndQueued:
		return "found_and_queued"
	case ResultAlreadySolved:
		return "already_solved"
	case ResultMiningFailed:
		return "mining_failed"
	default:
		return "unknown"
	}
}

// ChallengeData identifies one proof-of-work round.
type ChallengeData struct {
	ChallengeID      string `json:"challenge_id"`
	Day              int    `json:"day"`
	LatestSubmission string `json:"latest_submission"`
	Difficulty       string `json:"difficulty"`

	// Dataset is the shared read-only blob consumed by the hash function.
	// It is not part of the cached challenge snapshot on disk.
	Dataset *Dataset `json:"-"`
}

// Dataset is a reference-counted, read-only handle to the challenge
// dataset. The blob can be gigabyte-scale, so it is shared by reference
// across every worker mining the same challenge and freed as soon as the
// last reference is released.
type Dataset struct {
	refs atomic.Int64
	data []byte
}

// NewDataset wraps data in a handle holding one reference.
func NewDataset(data []byte) *Dataset {
	d := &Dataset{data: data}
	d.refs.Store(1)
	return d
}

// Retain adds a reference. Each Retain must be paired with a Release.
func (d *Dataset) Retain() *Dataset {
	d.refs.Add(1)
	return d
}

// Release drops a reference. When the count reaches zero the blob is
// detached so the memory becomes reclaimable.
func (d *Dataset) Release() {
	if d.refs.Add(-1) == 0 {
		d.data = nil
	}
}

// Bytes returns the underlying blob. The caller must hold a reference
// and must not mutate the returned slice.
func (d *Dataset) Bytes() []byte {
	return d.data
}

// Len returns the dataset size in bytes.
func (d *Dataset) Len() int {
	return len(d.data)
}

// Refs reports the current reference count.
func (d *Dataset) Refs() int64 {
	return d.refs.Load()
}

// PendingSolution is a found solution awaiting confirmed submission.
// It carries everything needed to reconstruct the submission request.
type PendingSolution struct {
	Address     string    `json:"address"`
	ChallengeID string    `json:"challenge_id"`
	Nonce       uint64    `json:"nonce"`
	HashHex     string    `json:"hash"`
	FoundAt     time.Time `json:"found_at"`
}

// WalletConfig is one roster entry in the wallets file. The core treats
// every field except the running counters as read-only.
type WalletConfig struct {
	ID              uint32  `json:"id"`
	Name            string  `json:"name"`
	Mnemonic        string  `json:"mnemonic"`
	Password        *string `json:"password,omitempty"`
	ProfileDir      *string `json:"profile_dir,omitempty"`
	CreatedAt       *string `json:"created_at,omitempty"`
	Status          *string `json:"status,omitempty"`
	TotalSolved     *uint32 `json:"total_solved,omitempty"`
	TotalUnsolved   *uint32 `json:"total_unsolved,omitempty"`
	EstimatedTokens *string `json:"estimated_tokens,omitempty"`
	LastUpdated     *string `json:"last_updated,omitempty"`
}

// Statistics is the per-address view returned by the coordinator.
type Statistics struct {
	Receipts        uint32 `json:"crypto_receipts"`
	NightAllocation int64  `json:"night_allocation"`
	RecentReceipts  uint32 `json:"recent_crypto_receipts"`
}

// WorkRate maps challenge day (1-based) to the reward-rate for that day.
type WorkRate []int64

// PerSolution returns the estimated token value of one solution on the
// given day, spread over networkSolutions recent solutions. Values are
// in millionths of a token.
func (w WorkRate) PerSolution(day int, networkSolutions uint32) float64 {
	idx := day - 1
	if idx < 0 || idx >= len(w) || networkSolutions == 0 {
		return 0
	}
	return (float64(w[idx]) / float64(networkSolutions)) / 1e6
}

// ChallengeStatus describes the coordinator's round schedule.
type ChallengeStatus struct {
	NextChallengeStartsAt *string `json:"next_challenge_starts_at,omitempty"`
}
