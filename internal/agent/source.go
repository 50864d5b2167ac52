package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/Its-Zeus/shadowharvester/internal/identity"
	"github.com/Its-Zeus/shadowharvester/internal/store"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// ErrExhausted means the source has no further identity to mine with for
// the given challenge. The driver then waits for the next round.
var ErrExhausted = errors.New("identity source exhausted for this challenge")

// Candidate is one identity the driver should mine with next.
type Candidate struct {
	Name     string
	Identity *identity.Identity
	Locator  identity.Locator

	// Bookkeeping the issuing source reads back in Advance.
	challengeID string
	index       uint32
	hasIndex    bool
}

// IdentitySource is the strategy behind the four mining modes: it
// decides which identity mines next and observes each cycle's outcome.
type IdentitySource interface {
	// Next returns the identity to mine challengeID with, or ErrExhausted
	// when every identity this source can offer has already been used for
	// that challenge.
	Next(ctx context.Context, challengeID string) (Candidate, error)

	// Advance reports the outcome of mining with a candidate previously
	// returned by Next.
	Advance(c Candidate, result types.MiningResult)
}

// FixedSource mines with one long-lived identity. Once that identity has
// solved a challenge the source is exhausted for it until rotation.
type FixedSource struct {
	name string
	id   *identity.Identity
	done map[string]bool
}

// NewFixedSource wraps a persistent payment-key identity.
func NewFixedSource(id *identity.Identity) *FixedSource {
	return &FixedSource{
		name: "payment-key",
		id:   id,
		done: make(map[string]bool),
	}
}

func (s *FixedSource) Next(ctx context.Context, challengeID string) (Candidate, error) {
	if s.done[challengeID] {
		return Candidate{}, ErrExhausted
	}
	return Candidate{
		Name:        s.name,
		Identity:    s.id,
		Locator:     identity.PersistentLocator{Address: s.id.Address},
		challengeID: challengeID,
	}, nil
}

func (s *FixedSource) Advance(c Candidate, result types.MiningResult) {
	if result == types.ResultFoundAndQueued || result == types.ResultAlreadySolved {
		// Only the latest challenge matters; older entries would pin memory
		// across long runs.
		for id := range s.done {
			delete(s.done, id)
		}
		s.done[c.challengeID] = true
	}
}

// SequentialSource walks derivation indices of one mnemonic, skipping
// indices whose local state already shows a solution for the current
// challenge, and never revisits an index once it solved.
type SequentialSource struct {
	phrase      string
	fingerprint string
	account     uint32
	floor       uint32
	store       *store.Store
	logger      *zap.Logger
}

// maxSkipScan bounds one Next call's walk over consecutive solved
// indices so corrupt local state cannot spin the driver forever.
const maxSkipScan = 10000

// NewSequentialSource starts walking phrase's indices at startIndex.
func NewSequentialSource(phrase string, account, startIndex uint32, st *store.Store, logger *zap.Logger) (*SequentialSource, error) {
	// Derive once up front so a bad phrase fails at startup, not
	// mid-mining.
	if _, err := identity.FromMnemonic(phrase, account, startIndex); err != nil {
		return nil, err
	}
	return &SequentialSource{
		phrase:      phrase,
		fingerprint: identity.MnemonicFingerprint(phrase),
		account:     account,
		floor:       startIndex,
		store:       st,
		logger:      logger,
	}, nil
}

func (s *SequentialSource) Next(ctx context.Context, challengeID string) (Candidate, error) {
	for idx := s.floor; idx < s.floor+maxSkipScan; idx++ {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		id, err := identity.FromMnemonic(s.phrase, s.account, idx)
		if err != nil {
			return Candidate{}, err
		}
		loc := identity.MnemonicLocator{Fingerprint: s.fingerprint, Account: s.account, Index: idx}

		solved, err := s.store.AlreadySolved(loc, id.Address, challengeID)
		if err != nil {
			s.logger.Warn("skip-scan state check failed",
				zap.Uint32("index", idx), zap.Error(err))
		}
		if solved {
			s.logger.Info("index already solved this challenge, skipping",
				zap.Uint32("account", s.account), zap.Uint32("index", idx))
			continue
		}
		return Candidate{
			Name:     fmt.Sprintf("a%d/i%d", s.account, idx),
			Identity: id,
			Locator:  loc,
			index:    idx,
			hasIndex: true,
		}, nil
	}
	return Candidate{}, ErrExhausted
}

func (s *SequentialSource) Advance(c Candidate, result types.MiningResult) {
	if !c.hasIndex {
		return
	}
	if result == types.ResultFoundAndQueued || result == types.ResultAlreadySolved {
		if c.index >= s.floor {
			s.floor = c.index + 1
		}
	}
}

// EphemeralSource mints a fresh throwaway identity per cycle. It is
// never exhausted.
type EphemeralSource struct {
	seq int
}

func NewEphemeralSource() *EphemeralSource {
	return &EphemeralSource{}
}

func (s *EphemeralSource) Next(ctx context.Context, challengeID string) (Candidate, error) {
	id, err := identity.NewEphemeral()
	if err != nil {
		return Candidate{}, err
	}
	s.seq++
	return Candidate{
		Name:     fmt.Sprintf("ephemeral-%d", s.seq),
		Identity: id,
		Locator:  identity.EphemeralLocator{Address: id.Address},
	}, nil
}

func (s *EphemeralSource) Advance(c Candidate, result types.MiningResult) {}
