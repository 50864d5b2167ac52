// Package identity derives and signs for the addresses the harvester
// mines with: a persistent user-supplied key, a sequence of mnemonic
// derivations, or a fresh one-shot key.
package identity

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// AddressPrefix is prepended to every encoded address.
const AddressPrefix = "night1"

// derivationKey separates harvester key derivation from any other use of
// the same mnemonic seed.
var derivationKey = []byte("shadowharvester/derive/v1")

// Identity is an address plus its signing capability.
type Identity struct {
	Address string

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// FromSigningKey builds an identity from a hex-encoded 32-byte ed25519
// seed (the persistent payment key).
func FromSigningKey(seedHex string) (*Identity, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return fromSeed(seed), nil
}

// FromMnemonic deterministically derives the identity at (account, index)
// from a BIP-39 mnemonic phrase.
func FromMnemonic(phrase string, account, index uint32) (*Identity, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, fmt.Errorf("invalid mnemonic phrase")
	}
	seed := bip39.NewSeed(phrase, "")

	mac := hmac.New(sha512.New, derivationKey)
	mac.Write(seed)
	var idx [8]byte
	binary.BigEndian.PutUint32(idx[0:4], account)
	binary.BigEndian.PutUint32(idx[4:8], index)
	mac.Write(idx[:])

	return fromSeed(mac.Sum(nil)[:ed25519.SeedSize]), nil
}

// NewEphemeral generates a throwaway identity from system randomness.
func NewEphemeral() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return fromSeed(seed), nil
}

// GenerateMnemonic returns a fresh 24-word BIP-39 phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return phrase, nil
}

func fromSeed(seed []byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		Address: EncodeAddress(pub),
		priv:    priv,
		pub:     pub,
	}
}

// EncodeAddress renders a public key as a harvester address:
// prefix + base58 of the first 20 bytes of blake2b-256(pubkey).
func EncodeAddress(pub ed25519.PublicKey) string {
	digest := blake2b.Sum256(pub)
	return AddressPrefix + base58.Encode(digest[:20])
}

// Sign signs msg and returns the hex-encoded signature.
func (id *Identity) Sign(msg string) string {
	return hex.EncodeToString(ed25519.Sign(id.priv, []byte(msg)))
}

// PublicKeyHex returns the hex-encoded verification key, as the
// coordinator expects it during registration.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.pub)
}

// MnemonicFingerprint returns a short stable identifier for a mnemonic,
// safe to embed in directory names. Distinct phrases collide only if
// blake2b does.
func MnemonicFingerprint(phrase string) string {
	digest := blake2b.Sum256([]byte(phrase))
	return hex.EncodeToString(digest[:8])
}
