package pool

import (
	"sync"
	"time"

	"github.com/Its-Zeus/shadowharvester/internal/types"
)

// WorkerStatus is the display state of one roster identity in the
// current round.
type WorkerStatus int

const (
	StatusWaiting WorkerStatus = iota
	StatusMining
	StatusSolved
	StatusFailed
	StatusSkipped
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusMining:
		return "mining"
	case StatusSolved:
		return "solved"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// WorkerStats is the per-identity slice of the dashboard.
type WorkerStats struct {
	Name            string       `json:"name"`
	Address         string       `json:"address"`
	Status          WorkerStatus `json:"-"`
	StatusText      string       `json:"status"`
	Solved          uint32       `json:"solved"`
	EstimatedTokens float64      `json:"estimated_tokens"`
}

// Snapshot is a self-consistent copy of the live state, safe to render
// or serialize without further locking.
type Snapshot struct {
	ChallengeID       string        `json:"challenge_id"`
	Day               int           `json:"day"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	RewardPerSolution float64       `json:"reward_per_solution"`
	NextChallengeAt   string        `json:"next_challenge_at,omitempty"`
	Workers           []WorkerStats `json:"workers"`
}

// LiveStats is the shared dashboard state. Workers, the completion loop,
// and the display loop all touch it; every access goes through the
// mutex, and no caller holds the lock across a network or disk call.
type LiveStats struct {
	mu sync.Mutex

	challengeID       string
	day               int
	started           time.Time
	rewardPerSolution float64
	nextChallengeAt   string

	order   []string
	workers map[string]*WorkerStats
}

// NewLiveStats builds the stats table in roster order.
func NewLiveStats(members []Member) *LiveStats {
	s := &LiveStats{workers: make(map[string]*WorkerStats, len(members))}
	for _, m := range members {
		s.order = append(s.order, m.Name)
		s.workers[m.Name] = &WorkerStats{Name: m.Name, Address: m.Identity.Address}
	}
	return s
}

// BeginRound resets per-round state for a new challenge. Solved counters
// carry across rounds.
func (s *LiveStats) BeginRound(ch *types.ChallengeData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeID = ch.ChallengeID
	s.day = ch.Day
	s.started = time.Now()
	for _, w := range s.workers {
		w.Status = StatusWaiting
	}
}

// SetStatus updates one identity's display status.
func (s *LiveStats) SetStatus(name string, status WorkerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[name]; ok {
		w.Status = status
	}
}

// RecordResult applies a worker completion. skipped marks identities
// short-circuited by the local idempotence check.
func (s *LiveStats) RecordResult(name string, result types.MiningResult, skipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return
	}
	switch {
	case skipped:
		w.Status = StatusSkipped
	case result == types.ResultFoundAndQueued, result == types.ResultAlreadySolved:
		w.Status = StatusSolved
		w.Solved++
	default:
		w.Status = StatusFailed
	}
}

// SetNetwork applies round-wide figures from a statistics refresh.
func (s *LiveStats) SetNetwork(rewardPerSolution float64, nextChallengeAt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewardPerSolution = rewardPerSolution
	s.nextChallengeAt = nextChallengeAt
}

// SetWorkerNetwork applies one identity's coordinator-side figures.
func (s *LiveStats) SetWorkerNetwork(name string, receipts uint32, estimatedTokens float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[name]; ok {
		if receipts > w.Solved {
			w.Solved = receipts
		}
		w.EstimatedTokens = estimatedTokens
	}
}

// Snapshot returns a copy of the current state in roster order.
func (s *LiveStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ChallengeID:       s.challengeID,
		Day:               s.day,
		RewardPerSolution: s.rewardPerSolution,
		NextChallengeAt:   s.nextChallengeAt,
		Workers:           make([]WorkerStats, 0, len(s.order)),
	}
	if !s.started.IsZero() {
		snap.Elapsed = time.Since(s.started)
	}
	for _, name := range s.order {
		w := *s.workers[name]
		w.StatusText = w.Status.String()
		snap.Workers = append(snap.Workers, w)
	}
	return snap
}
