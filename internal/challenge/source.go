// Package challenge tracks the currently active proof-of-work round:
// discovery, operator pinning, rotation detection, and staleness
// tolerance during coordinator blackouts.
package challenge

import (
	"context"
	"errors"

	"github.com/Its-Zeus/shadowharvester/internal/coordinator"
	"github.com/Its-Zeus/shadowharvester/internal/types"

	"go.uber.org/zap"
)

// ErrNoActiveChallenge is returned when no round is currently biddable;
// the caller is expected to poll again later.
var ErrNoActiveChallenge = coordinator.ErrNoActiveChallenge

// Source normalizes "operator-pinned challenge id" vs "follow whatever
// is active" and rides out transient API failures on last-known-good
// parameters. The source owns one dataset reference for the challenge it
// holds and releases it when the round rotates. One Source belongs to
// one control loop; it is not safe for concurrent use.
type Source struct {
	client coordinator.Client
	pinned string
	logger *zap.Logger

	lastID   string
	lastData *types.ChallengeData
}

// NewSource creates a source. A non-empty pinned id fixes the round: the
// source fetches exactly that challenge and never rotates.
func NewSource(client coordinator.Client, pinned string, logger *zap.Logger) *Source {
	return &Source{client: client, pinned: pinned, logger: logger}
}

// Pinned reports whether the operator fixed the challenge id.
func (s *Source) Pinned() bool {
	return s.pinned != ""
}

// LastID returns the id of the last challenge this source supplied, or
// "" before the first successful poll.
func (s *Source) LastID() string {
	return s.lastID
}

// Current returns the challenge to mine right now.
//
// On a network-layer failure after at least one successful poll, the
// last-known-good challenge is re-supplied so mining continues through
// brief API blackouts; the small risk of working a just-expired round is
// covered by the caller re-validating freshness after a failed cycle.
// Failures before any challenge was seen, and application-level errors,
// are returned to the caller for backoff.
func (s *Source) Current(ctx context.Context) (*types.ChallengeData, error) {
	data, err := s.fetch(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveChallenge) {
			return nil, ErrNoActiveChallenge
		}
		if coordinator.IsNetworkError(err) && s.lastData != nil {
			s.logger.Warn("challenge poll failed, continuing on last known parameters",
				zap.String("challenge_id", s.lastID),
				zap.Error(err),
			)
			return s.lastData, nil
		}
		return nil, err
	}

	if data != s.lastData {
		if s.lastData != nil {
			s.logger.Info("challenge rotated",
				zap.String("previous", s.lastID),
				zap.String("current", data.ChallengeID),
			)
			// Drop the rotated-out dataset so its memory is reclaimable
			// as soon as the old round's workers exit.
			s.Release()
		}
		s.lastID = data.ChallengeID
		s.lastData = data
	}
	return data, nil
}

// Rotated polls the active challenge id and reports whether it differs
// from id. A failed poll reports false: no evidence of rotation.
func (s *Source) Rotated(ctx context.Context, id string) bool {
	if s.pinned != "" {
		return false
	}
	activeID, err := s.client.ActiveChallengeID(ctx)
	if err != nil {
		return false
	}
	return activeID != id
}

// Release drops the source's dataset reference. Call when a round ends
// and the held challenge will not be mined again.
func (s *Source) Release() {
	if s.lastData != nil && s.lastData.Dataset != nil {
		s.lastData.Dataset.Release()
	}
	s.lastData = nil
}

func (s *Source) fetch(ctx context.Context) (*types.ChallengeData, error) {
	if s.pinned != "" {
		if s.lastData != nil {
			// Pinned rounds never rotate; reuse the held data.
			return s.lastData, nil
		}
		return s.client.ChallengeByID(ctx, s.pinned)
	}

	if s.lastData != nil {
		// Cheap id probe before re-downloading a gigabyte-scale dataset.
		id, err := s.client.ActiveChallengeID(ctx)
		if err != nil {
			return nil, err
		}
		if id == s.lastID {
			return s.lastData, nil
		}
	}
	return s.client.ActiveChallenge(ctx)
}
