package identity

import (
	"fmt"
	"path/filepath"
)

// Locator describes where an identity's local state lives on disk. The
// three variants map to disjoint directory trees so two different
// identities can never resolve to overlapping paths; a collision there
// would let one identity read another's receipts.
//
// Layout under the data dir:
//
//	challenges/<challengeID>/persistent/<address>/
//	challenges/<challengeID>/mnemonic/<fingerprint>/a<account>/i<index>/
//	challenges/<challengeID>/ephemeral/<address>/
type Locator interface {
	// ChallengeDir resolves the per-challenge directory for this identity.
	ChallengeDir(base, challengeID string) string
}

// PersistentLocator locates state for a long-lived user-supplied key.
type PersistentLocator struct {
	Address string
}

func (l PersistentLocator) ChallengeDir(base, challengeID string) string {
	return filepath.Join(base, "challenges", challengeID, "persistent", l.Address)
}

// MnemonicLocator locates state for one derivation index of a mnemonic.
// Fingerprint comes from MnemonicFingerprint; the raw phrase never
// appears on disk.
type MnemonicLocator struct {
	Fingerprint string
	Account     uint32
	Index       uint32
}

func (l MnemonicLocator) ChallengeDir(base, challengeID string) string {
	return filepath.Join(base, "challenges", challengeID, "mnemonic", l.Fingerprint,
		fmt.Sprintf("a%d", l.Account), fmt.Sprintf("i%d", l.Index))
}

// EphemeralLocator locates state for a one-shot generated key.
type EphemeralLocator struct {
	Address string
}

func (l EphemeralLocator) ChallengeDir(base, challengeID string) string {
	return filepath.Join(base, "challenges", challengeID, "ephemeral", l.Address)
}

// AlternateReceiptDir is the historical path the submission drainer
// writes receipts to. The drainer only knows the solution's address, not
// which locator variant produced it, so it files every receipt under the
// persistent variant. Mnemonic and ephemeral flows must therefore check
// this path in addition to their canonical one.
func AlternateReceiptDir(base, challengeID, address string) string {
	return PersistentLocator{Address: address}.ChallengeDir(base, challengeID)
}
